package location

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/observability"
)

// Authorization is the user's location permission.
type Authorization int

const (
	NotDetermined Authorization = iota
	Authorized
	Denied
	Restricted
)

func (a Authorization) String() string {
	switch a {
	case NotDetermined:
		return "not_determined"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	case Restricted:
		return "restricted"
	default:
		return fmt.Sprintf("authorization(%d)", int(a))
	}
}

// Revoked reports whether a is one of the denied states.
func (a Authorization) Revoked() bool {
	return a == Denied || a == Restricted
}

// ParseAuthorization accepts the String form, case-insensitive.
func ParseAuthorization(s string) (Authorization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "not_determined", "":
		return NotDetermined, nil
	case "authorized":
		return Authorized, nil
	case "denied":
		return Denied, nil
	case "restricted":
		return Restricted, nil
	}
	return NotDetermined, fmt.Errorf("unknown authorization %q", s)
}

// ErrAlreadyStarted is returned by Start on a running provider.
var ErrAlreadyStarted = errors.New("location provider already started")

// Source produces the device position. Locate is called once per poll.
type Source interface {
	Name() string
	Locate(ctx context.Context) (models.Coordinate, error)
}

// Handlers receives provider events. Either field may be nil.
type Handlers struct {
	// OnLocation fires for every coordinate the source reports.
	OnLocation func(models.Coordinate)
	// OnDenied fires once each time permission moves from a non-denied state
	// into Denied or Restricted.
	OnDenied func()
}

// Options configures a Provider.
type Options struct {
	// Initial is the permission state before Start. Defaults to NotDetermined.
	Initial Authorization
	// Grant resolves NotDetermined when Start requests permission. Defaults to Authorized.
	Grant Authorization
	// PollInterval re-runs the source at this period. Zero locates once.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Provider runs a Source while permission is Authorized and the provider is started.
type Provider struct {
	source   Source
	handlers Handlers
	grant    Authorization
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	auth    Authorization
	started bool
	parent  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProvider returns a stopped provider.
func NewProvider(source Source, handlers Handlers, opts Options) *Provider {
	grant := opts.Grant
	if grant == NotDetermined {
		grant = Authorized
	}
	return &Provider{
		source:   source,
		handlers: handlers,
		grant:    grant,
		interval: opts.PollInterval,
		logger:   observability.OrNop(opts.Logger),
		auth:     opts.Initial,
	}
}

// Start requests permission if it is undetermined and begins locating when
// authorized. The source stops when ctx is cancelled or Stop is called.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.parent = ctx
	fire := false
	if p.auth == NotDetermined {
		fire = p.transitionLocked(p.grant)
	} else if p.auth == Authorized {
		p.runLocked()
	}
	p.mu.Unlock()

	if fire {
		p.notifyDenied()
	}
	return nil
}

// Stop halts the source and waits for it to return. Safe to call when stopped.
func (p *Provider) Stop() {
	p.mu.Lock()
	p.started = false
	p.parent = nil
	p.haltLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

// SetAuthorization applies a permission change from the platform or the user.
func (p *Provider) SetAuthorization(a Authorization) {
	p.mu.Lock()
	fire := p.transitionLocked(a)
	p.mu.Unlock()

	if fire {
		p.notifyDenied()
	}
}

// Authorization returns the current permission state.
func (p *Provider) Authorization() Authorization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auth
}

// Running reports whether the source loop is active.
func (p *Provider) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// transitionLocked moves to a and reports whether OnDenied must fire.
func (p *Provider) transitionLocked(a Authorization) bool {
	prev := p.auth
	p.auth = a
	if prev != a {
		p.logger.Info("location authorization changed",
			zap.String("from", prev.String()),
			zap.String("to", a.String()))
	}

	if a == Authorized {
		if p.started && p.cancel == nil {
			p.runLocked()
		}
	} else {
		p.haltLocked()
	}
	return a.Revoked() && !prev.Revoked()
}

func (p *Provider) runLocked() {
	ctx, cancel := context.WithCancel(p.parent)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

func (p *Provider) haltLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Provider) loop(ctx context.Context) {
	name := p.source.Name()
	locate := func() {
		coord, err := p.source.Locate(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				p.logger.Warn("location source failed", zap.String("source", name), zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		observability.LocationUpdatesTotal.WithLabelValues(name).Inc()
		p.logger.Debug("location update",
			zap.String("source", name),
			zap.Float64("latitude", coord.Latitude),
			zap.Float64("longitude", coord.Longitude))
		if p.handlers.OnLocation != nil {
			p.handlers.OnLocation(coord)
		}
	}

	locate()
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			locate()
		}
	}
}

func (p *Provider) notifyDenied() {
	if p.handlers.OnDenied != nil {
		p.handlers.OnDenied()
	}
}
