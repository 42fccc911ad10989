// Package schedule runs delayed callbacks that can be cancelled together
// when their owner goes away.
package schedule

import (
	"sort"
	"sync"
	"time"
)

type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was stopped.
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Real schedules on the wall clock.
type Real struct{}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Group tracks the timers of one owner. Stop cancels all of them, and
// nothing scheduled through a stopped group ever runs.
type Group struct {
	sched Scheduler

	mu      sync.Mutex
	stopped bool
	next    int
	timers  map[int]Timer
}

func NewGroup(sched Scheduler) *Group {
	return &Group{sched: sched, timers: make(map[int]Timer)}
}

type groupTimer struct {
	g  *Group
	id int
}

func (t groupTimer) Stop() bool {
	t.g.mu.Lock()
	timer, ok := t.g.timers[t.id]
	delete(t.g.timers, t.id)
	t.g.mu.Unlock()

	if !ok {
		return false
	}
	return timer.Stop()
}

func (g *Group) AfterFunc(d time.Duration, f func()) Timer {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.next
	g.next++
	if g.stopped {
		return groupTimer{g: g, id: id}
	}

	g.timers[id] = g.sched.AfterFunc(d, func() {
		g.mu.Lock()
		_, live := g.timers[id]
		delete(g.timers, id)
		g.mu.Unlock()

		if live {
			f()
		}
	})
	return groupTimer{g: g, id: id}
}

// Pending returns the number of timers that have not fired yet.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

func (g *Group) Stop() {
	g.mu.Lock()
	timers := g.timers
	g.timers = make(map[int]Timer)
	g.stopped = true
	g.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

// Manual is a Scheduler driven by Advance, for tests.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	m     *Manual
	at    time.Duration
	seq   int
	f     func()
	done  bool
	delay time.Duration
}

func (t *manualTask) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTask{m: m, at: m.now + d, seq: m.seq, f: f, delay: d}
	m.seq++
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward and runs every callback that falls due,
// in deadline order. Callbacks may schedule further callbacks; those run too
// if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	end := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(end)
		if t == nil {
			m.now = end
			m.mu.Unlock()
			return
		}
		t.done = true
		m.now = t.at
		m.mu.Unlock()

		t.f()
	}
}

func (m *Manual) nextDue(end time.Duration) *manualTask {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.done {
			live = append(live, t)
		}
	}
	m.tasks = live

	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at != m.tasks[j].at {
			return m.tasks[i].at < m.tasks[j].at
		}
		return m.tasks[i].seq < m.tasks[j].seq
	})
	if len(m.tasks) == 0 || m.tasks[0].at > end {
		return nil
	}
	return m.tasks[0]
}

// Pending returns the delays, as requested, of callbacks that have not run.
func (m *Manual) Pending() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var delays []time.Duration
	for _, t := range m.tasks {
		if !t.done {
			delays = append(delays, t.delay)
		}
	}
	return delays
}
