package panel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/registry"
	"github.com/daemonp/elkm1bridge/internal/schedule"
)

// Link is the panel session the bridge drives. *elk.Link implements it.
type Link interface {
	accessory.Commander
	Connect(ctx context.Context) error
	Disconnect()
	Events() <-chan elk.Event
	RequestZoneStatusReport(ctx context.Context) (elk.ZoneStatusReport, error)
	RequestTextDescription(ctx context.Context, kind elk.DescriptionType, id int) (elk.TextDescription, error)
	RequestTextDescriptionAll(ctx context.Context, kind elk.DescriptionType) ([]elk.TextDescription, error)
	RequestTemperature(ctx context.Context) (elk.TemperatureReport, error)
}

var _ Link = (*elk.Link)(nil)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Retrying
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Retrying:
		return "retrying"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Panel owns the connection to the Elk M1: it connects and reconnects with
// backoff, discovers accessories once connected and routes panel events to
// them.
type Panel struct {
	config   *config.Config
	log      *log.Logger
	link     Link
	sched    schedule.Scheduler
	registry *registry.Registry
	router   *Router
	notifier accessory.Notifier

	ctx        context.Context
	connecting atomic.Bool
	timers     *schedule.Group

	mu         sync.Mutex
	state      State
	retryDelay time.Duration
	retry      schedule.Timer
	polling    bool
	discovered []func([]accessory.Accessory)
}

func NewPanel(cfg *config.Config, link Link, reg *registry.Registry, notifier accessory.Notifier, sched schedule.Scheduler, logger *log.Logger) *Panel {
	p := &Panel{
		config:     cfg,
		log:        logger,
		link:       link,
		sched:      sched,
		registry:   reg,
		notifier:   notifier,
		ctx:        context.Background(),
		timers:     schedule.NewGroup(sched),
		retryDelay: cfg.Timing.InitialRetryDelay,
	}
	p.router = NewRouter(logger.With("router"), p.connectionLost)
	return p
}

// OnDiscovery registers a callback run with every accessory after each
// successful discovery.
func (p *Panel) OnDiscovery(f func([]accessory.Accessory)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discovered = append(p.discovered, f)
}

func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Panel) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != s {
		p.log.Debug("Session %s -> %s", p.state, s)
	}
	p.state = s
}

// RetryDelay is the delay the next failed attempt will wait.
func (p *Panel) RetryDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryDelay
}

func (p *Panel) Router() *Router {
	return p.router
}

// Start routes panel events and makes the first connection attempt. It
// returns once that attempt has finished; later attempts run on the
// scheduler.
func (p *Panel) Start(ctx context.Context) {
	p.ctx = ctx
	go p.router.Run(ctx, p.link.Events())
	p.Connect()
}

// Run starts the panel and blocks until ctx is cancelled.
func (p *Panel) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *Panel) Stop() {
	p.log.Info("Disconnecting from panel...")
	p.timers.Stop()
	p.mu.Lock()
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.mu.Unlock()
	p.link.Disconnect()
	p.registry.Close()
	p.setState(Disconnected)
	p.log.Info("Disconnected from panel")
}

// Connect makes one connection attempt unless one is already running.
// A failed discovery tears the session down and starts over.
func (p *Panel) Connect() {
	if !p.connecting.CompareAndSwap(false, true) {
		p.log.Debug("Already attempting to connect to Elk M1")
		return
	}
	defer p.connecting.Store(false)

	p.mu.Lock()
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.mu.Unlock()

	for p.ctx.Err() == nil {
		p.setState(Connecting)
		p.log.Info("Attempting to connect to Elk M1")
		if err := p.link.Connect(p.ctx); err != nil {
			p.scheduleRetry(err)
			return
		}

		p.setState(Connected)
		p.mu.Lock()
		p.retryDelay = p.config.Timing.InitialRetryDelay
		p.mu.Unlock()

		if err := p.discover(p.ctx); err != nil {
			p.log.Error("Error retrieving data from M1 panel: %v", err)
			p.link.Disconnect()
			p.setState(Disconnected)
			continue
		}
		return
	}
}

// connectionLost handles a connection error reported by the link after the
// session was established.
func (p *Panel) connectionLost(err error) {
	p.scheduleRetry(err)
}

func (p *Panel) scheduleRetry(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return
	}
	if p.retry != nil {
		p.log.Debug("Retry already scheduled, ignoring: %v", err)
		return
	}

	delay := p.retryDelay
	p.log.Error("Error connecting to ElkM1 %v. Will retry in %s", err, delay)
	p.state = Retrying
	p.retry = p.sched.AfterFunc(delay, p.retryConnect)
	p.retryDelay = min(p.retryDelay*2, p.config.Timing.MaxRetryDelay)
}

func (p *Panel) retryConnect() {
	p.mu.Lock()
	p.retry = nil
	connected := p.state == Connected
	p.mu.Unlock()

	if connected {
		return
	}
	p.Connect()
}

// Accessories returns every accessory bound in this run.
func (p *Panel) Accessories() []accessory.Accessory {
	var accs []accessory.Accessory
	for _, h := range p.registry.Handles() {
		if acc, ok := h.Device().(accessory.Accessory); ok {
			accs = append(accs, acc)
		}
	}
	return accs
}

func (p *Panel) startTemperaturePolling() {
	p.mu.Lock()
	if p.polling {
		p.mu.Unlock()
		return
	}
	p.polling = true
	p.mu.Unlock()

	p.log.Debug("Starting periodic temperature requests")
	p.timers.AfterFunc(p.config.Timing.TemperaturePollInterval, p.pollTemperature)
}

func (p *Panel) pollTemperature() {
	if p.ctx.Err() != nil {
		return
	}
	if _, err := p.link.RequestTemperature(p.ctx); err != nil {
		p.log.Debug("Temperature request failed: %v", err)
	}
	p.timers.AfterFunc(p.config.Timing.TemperaturePollInterval, p.pollTemperature)
}
