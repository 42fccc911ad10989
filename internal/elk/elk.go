package elk

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/daemonp/elkm1bridge/internal/log"
)

var (
	ErrNotConnected = errors.New("not connected to panel")
	ErrTimeout      = errors.New("panel did not reply in time")
	ErrLogin        = errors.New("panel login failed")
)

const (
	dialTimeout  = 30 * time.Second
	loginTimeout = 15 * time.Second
	eventBuffer  = 100
)

type Options struct {
	Address        string
	Port           int
	Secure         bool
	Username       string
	Password       string
	RequestTimeout time.Duration
}

// Link is a session with an Elk M1 panel, either directly on the ethernet
// module's plain port or through the M1XEP's TLS port.
//
// Replies are matched to the pending request by message type. Every decoded
// frame, replies included, is also published on Events so that unsolicited
// and solicited updates follow the same path.
type Link struct {
	opts Options
	log  *log.Logger
	dial func(ctx context.Context, network, address string) (net.Conn, error)

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	done      chan struct{}
	waiters   map[string]chan Event

	// one request in flight at a time
	reqMu sync.Mutex

	events chan Event
}

func NewLink(opts Options, logger *log.Logger) *Link {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	l := &Link{
		opts:    opts,
		log:     logger,
		waiters: make(map[string]chan Event),
		events:  make(chan Event, eventBuffer),
	}
	l.dial = l.defaultDial
	return l
}

func (l *Link) defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	if !l.opts.Secure {
		return d.DialContext(ctx, network, address)
	}
	// The M1XEP ships a self-signed certificate.
	td := &tls.Dialer{NetDialer: d, Config: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	return td.DialContext(ctx, network, address)
}

// Events returns the stream of panel messages. It stays open across reconnects.
func (l *Link) Events() <-chan Event {
	return l.events
}

func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Link) Connect(ctx context.Context) error {
	if l.IsConnected() {
		return nil
	}

	address := net.JoinHostPort(l.opts.Address, fmt.Sprintf("%d", l.opts.Port))
	l.log.Debug("Attempting to connect to %s (secure=%t)", address, l.opts.Secure)

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := l.dial(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	reader := bufio.NewReader(conn)
	if l.opts.Secure {
		if err := l.login(conn, reader); err != nil {
			conn.Close()
			return err
		}
	}

	done := make(chan struct{})
	l.mu.Lock()
	l.conn = conn
	l.connected = true
	l.done = done
	l.mu.Unlock()

	go l.readLoop(conn, reader, done)

	l.log.Info("Connected to panel at %s", address)
	return nil
}

// login answers the M1XEP username and password prompts.
func (l *Link) login(conn net.Conn, reader *bufio.Reader) error {
	conn.SetDeadline(time.Now().Add(loginTimeout))
	defer conn.SetDeadline(time.Time{})

	steps := []struct {
		prompt string
		reply  string
	}{
		{"Username:", l.opts.Username},
		{"Password:", l.opts.Password},
	}
	for _, step := range steps {
		if err := waitFor(reader, step.prompt); err != nil {
			return fmt.Errorf("%w: waiting for %q: %v", ErrLogin, step.prompt, err)
		}
		if _, err := conn.Write([]byte(step.reply + "\r\n")); err != nil {
			return fmt.Errorf("%w: %v", ErrLogin, err)
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLogin, err)
		}
		switch {
		case strings.Contains(line, "Login successful"):
			l.log.Debug("Logged in as %s", l.opts.Username)
			return nil
		case strings.Contains(line, "not found"), strings.Contains(line, "Username:"):
			return fmt.Errorf("%w: credentials rejected", ErrLogin)
		}
	}
}

// waitFor reads byte by byte since prompts are not newline terminated.
func waitFor(reader *bufio.Reader, prompt string) error {
	var seen strings.Builder
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return err
		}
		seen.WriteByte(b)
		if strings.HasSuffix(seen.String(), prompt) {
			return nil
		}
	}
}

func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return
	}

	l.log.Debug("Disconnecting from panel")
	l.connected = false
	close(l.done)
	l.conn.Close()
	l.log.Debug("Disconnected from panel")
}

func (l *Link) readLoop(conn net.Conn, reader *bufio.Reader, done chan struct{}) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			l.log.Error("Read error: %v", err)
			l.connectionLost(conn, err)
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		l.processMessage(line, done)
	}
}

func (l *Link) connectionLost(conn net.Conn, err error) {
	l.mu.Lock()
	if l.conn == conn && l.connected {
		l.connected = false
		close(l.done)
		conn.Close()
	}
	l.mu.Unlock()

	l.events <- ErrorEvent{Err: fmt.Errorf("connection lost: %w", err)}
}

func (l *Link) processMessage(line string, done chan struct{}) {
	l.log.Trace("Processing message: %s", line)

	msgType, data, err := DecodeFrame(line)
	if err != nil {
		l.log.Debug("Ignoring frame: %v", err)
		return
	}

	event, err := ParseMessage(msgType, data)
	if err != nil {
		l.log.Warn("Failed to parse %s message: %v", msgType, err)
		return
	}

	l.mu.Lock()
	if waiter, ok := l.waiters[msgType]; ok {
		delete(l.waiters, msgType)
		waiter <- event
	}
	l.mu.Unlock()

	select {
	case l.events <- event:
	case <-done:
	}
}

func (l *Link) write(frame string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return ErrNotConnected
	}
	l.log.Debug("Sending command: %s", strings.TrimSpace(frame))
	if _, err := l.conn.Write([]byte(frame)); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// request sends a frame and waits for the reply of the given type.
func (l *Link) request(ctx context.Context, frame, replyType string) (Event, error) {
	l.reqMu.Lock()
	defer l.reqMu.Unlock()

	waiter := make(chan Event, 1)
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil, ErrNotConnected
	}
	done := l.done
	l.waiters[replyType] = waiter
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.waiters[replyType] == waiter {
			delete(l.waiters, replyType)
		}
		l.mu.Unlock()
	}()

	if err := l.write(frame); err != nil {
		return nil, err
	}

	timer := time.NewTimer(l.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case event := <-waiter:
		return event, nil
	case <-done:
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, fmt.Errorf("%w: waiting for %s", ErrTimeout, replyType)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Link) RequestZoneStatusReport(ctx context.Context) (ZoneStatusReport, error) {
	event, err := l.request(ctx, EncodeFrame("zs", ""), "ZS")
	if err != nil {
		return ZoneStatusReport{}, fmt.Errorf("failed to get zone status: %w", err)
	}
	return event.(ZoneStatusReport), nil
}

func (l *Link) RequestArmingStatus(ctx context.Context) (ArmingStatus, error) {
	event, err := l.request(ctx, EncodeFrame("as", ""), "AS")
	if err != nil {
		return ArmingStatus{}, fmt.Errorf("failed to get arming status: %w", err)
	}
	return event.(ArmingStatus), nil
}

func (l *Link) RequestOutputStatusReport(ctx context.Context) (OutputStatusReport, error) {
	event, err := l.request(ctx, EncodeFrame("cs", ""), "CS")
	if err != nil {
		return OutputStatusReport{}, fmt.Errorf("failed to get output status: %w", err)
	}
	return event.(OutputStatusReport), nil
}

func (l *Link) RequestTemperature(ctx context.Context) (TemperatureReport, error) {
	event, err := l.request(ctx, EncodeFrame("lw", ""), "LW")
	if err != nil {
		return TemperatureReport{}, fmt.Errorf("failed to get temperatures: %w", err)
	}
	return event.(TemperatureReport), nil
}

// RequestTextDescription returns the first non-blank description at or after id.
func (l *Link) RequestTextDescription(ctx context.Context, kind DescriptionType, id int) (TextDescription, error) {
	event, err := l.request(ctx, EncodeFrame("sd", CreateDescriptionInput(kind, id)), "SD")
	if err != nil {
		return TextDescription{}, fmt.Errorf("failed to get %s %d description: %w", kind, id, err)
	}
	return event.(TextDescription), nil
}

// RequestTextDescriptionAll walks every non-blank description of a kind.
func (l *Link) RequestTextDescriptionAll(ctx context.Context, kind DescriptionType) ([]TextDescription, error) {
	var all []TextDescription
	next := 1
	for next <= maxZones {
		td, err := l.RequestTextDescription(ctx, kind, next)
		if err != nil {
			return nil, err
		}
		if td.ID == 0 || td.ID < next {
			break
		}
		all = append(all, td)
		next = td.ID + 1
	}
	return all, nil
}

func (l *Link) Arm(_ context.Context, area int, mode ArmMode, code string) error {
	l.log.Debug("Sending %s for area %d", mode, area)
	msgType := fmt.Sprintf("a%d", int(mode))
	if err := l.write(EncodeFrame(msgType, CreateArmInput(area, code))); err != nil {
		return fmt.Errorf("failed to %s area %d: %w", strings.ToLower(mode.String()), area, err)
	}
	return nil
}

func (l *Link) SetOutputOn(_ context.Context, output, seconds int) error {
	if err := l.write(EncodeFrame("cn", CreateOutputOnInput(output, seconds))); err != nil {
		return fmt.Errorf("failed to turn on output %d: %w", output, err)
	}
	return nil
}

func (l *Link) SetOutputOff(_ context.Context, output int) error {
	if err := l.write(EncodeFrame("cf", CreateIDInput(output))); err != nil {
		return fmt.Errorf("failed to turn off output %d: %w", output, err)
	}
	return nil
}

func (l *Link) ActivateTask(_ context.Context, task int) error {
	if err := l.write(EncodeFrame("tn", CreateIDInput(task))); err != nil {
		return fmt.Errorf("failed to activate task %d: %w", task, err)
	}
	return nil
}
