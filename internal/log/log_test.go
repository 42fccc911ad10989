package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn")

	l.Info("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}

func TestWithAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "debug").With("session")

	l.Debug("hello")
	assert.Contains(t, buf.String(), "session")
	assert.Contains(t, buf.String(), "hello")
}

func TestPanelTagsSource(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info")

	l.Panel("XK frame")
	assert.Empty(t, buf.String(), "panel chatter is debug only")

	l = newLogger(&buf, "debug")
	l.Panel("XK frame")
	assert.Contains(t, buf.String(), "panel")
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error("nothing %s", "here")
	l.With("x").Info("still nothing")
}
