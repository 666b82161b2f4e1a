package viewstate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/observability"
)

// Field is a bitmask of the state fields an Update changed.
type Field uint8

const (
	FieldCurrent Field = 1 << iota
	FieldForecast
)

// Has reports whether f includes x.
func (f Field) Has(x Field) bool {
	return f&x != 0
}

func (f Field) String() string {
	var parts []string
	if f.Has(FieldCurrent) {
		parts = append(parts, "current")
	}
	if f.Has(FieldForecast) {
		parts = append(parts, "forecast")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Snapshot is an immutable view of the store. The zero value is the empty state.
type Snapshot struct {
	version  uint64
	current  *models.CurrentConditions
	forecast *models.ForecastBundle
}

// Version increases by one on every mutation.
func (s *Snapshot) Version() uint64 { return s.version }

// CurrentConditions returns a copy of the current conditions, if populated.
func (s *Snapshot) CurrentConditions() (models.CurrentConditions, bool) {
	if s.current == nil {
		return models.CurrentConditions{}, false
	}
	return s.current.Clone(), true
}

// ForecastBundle returns a copy of the forecast, if populated.
func (s *Snapshot) ForecastBundle() (models.ForecastBundle, bool) {
	if s.forecast == nil {
		return models.ForecastBundle{}, false
	}
	return s.forecast.Clone(), true
}

// Current projects the current-conditions screen.
func (s *Snapshot) Current() CurrentView {
	return ProjectCurrent(s.current)
}

// ForecastRows projects the forecast screen in loc.
func (s *Snapshot) ForecastRows(loc *time.Location) []ForecastRow {
	return ProjectForecast(s.forecast, loc)
}

// Update is published after every mutation.
type Update struct {
	Changed  Field
	Snapshot *Snapshot
}

// AlertKind names a user-facing alert.
type AlertKind int

const (
	AlertPermissionDenied AlertKind = iota
	AlertEmptyInput
)

func (k AlertKind) String() string {
	switch k {
	case AlertPermissionDenied:
		return "permission_denied"
	case AlertEmptyInput:
		return "empty_input"
	default:
		return "unknown"
	}
}

// Message is the text shown to the user.
func (k AlertKind) Message() string {
	switch k {
	case AlertPermissionDenied:
		return "Location access is denied. Allow it in settings or enter a city name."
	case AlertEmptyInput:
		return "Please enter a city name."
	default:
		return ""
	}
}

// Alert is a one-shot notification that never touches state.
type Alert struct {
	Kind AlertKind
	At   time.Time
}

// Subscription receives updates and alerts until Unsubscribe or the store stops.
type Subscription struct {
	ID      uuid.UUID
	Updates <-chan Update
	Alerts  <-chan Alert

	updates chan Update
	alerts  chan Alert
	store   *Store
	once    sync.Once
}

// Unsubscribe detaches and closes both channels. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.store.unsubscribe(sub)
}

func (sub *Subscription) close() {
	sub.once.Do(func() {
		close(sub.updates)
		close(sub.alerts)
	})
}

type action struct {
	current  *models.CurrentConditions
	forecast *models.ForecastBundle
	alert    *Alert
}

// Store owns the current conditions and forecast. Every mutation is applied by the
// goroutine running Run, and readers only ever see complete snapshots.
type Store struct {
	actions chan action
	done    chan struct{}
	snap    atomic.Pointer[Snapshot]
	logger  *zap.Logger

	subsMu sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// NewStore returns an empty store. Call Run to start applying mutations.
func NewStore(logger *zap.Logger) *Store {
	s := &Store{
		actions: make(chan action, 64),
		done:    make(chan struct{}),
		logger:  observability.OrNop(logger),
		subs:    make(map[uuid.UUID]*Subscription),
	}
	s.snap.Store(&Snapshot{})
	return s
}

// Run applies queued mutations until ctx is done, then closes every subscription.
func (s *Store) Run(ctx context.Context) {
	defer func() {
		close(s.done)
		s.subsMu.Lock()
		s.closed = true
		for id, sub := range s.subs {
			sub.close()
			delete(s.subs, id)
		}
		s.subsMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.actions:
			s.apply(a)
		}
	}
}

// Snapshot returns the latest state. Safe from any goroutine.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// SetCurrent replaces the current conditions. A nil c is an absent result and
// changes nothing.
func (s *Store) SetCurrent(c *models.CurrentConditions) {
	if c == nil {
		return
	}
	v := c.Clone()
	s.post(action{current: &v})
}

// SetForecast replaces the forecast. A nil b changes nothing.
func (s *Store) SetForecast(b *models.ForecastBundle) {
	if b == nil {
		return
	}
	v := b.Clone()
	s.post(action{forecast: &v})
}

// NotifyPermissionDenied forwards a location denial to subscribers.
func (s *Store) NotifyPermissionDenied() {
	s.post(action{alert: &Alert{Kind: AlertPermissionDenied, At: time.Now()}})
}

// NotifyEmptyInput tells subscribers the entered city was empty.
func (s *Store) NotifyEmptyInput() {
	s.post(action{alert: &Alert{Kind: AlertEmptyInput, At: time.Now()}})
}

// Subscribe registers a listener with the given channel buffer (minimum 1).
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		ID:      uuid.New(),
		updates: make(chan Update, buffer),
		alerts:  make(chan Alert, buffer),
		store:   s,
	}
	sub.Updates = sub.updates
	sub.Alerts = sub.alerts

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		sub.close()
		return sub
	}
	s.subs[sub.ID] = sub
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, sub.ID)
	sub.close()
}

// post hands a to the owner goroutine. Dropped once Run has returned.
func (s *Store) post(a action) {
	select {
	case s.actions <- a:
	case <-s.done:
	}
}

func (s *Store) apply(a action) {
	if a.alert != nil {
		observability.AlertsTotal.WithLabelValues(a.alert.Kind.String()).Inc()
		s.logger.Info("alert raised", zap.String("kind", a.alert.Kind.String()))
		s.broadcastAlert(*a.alert)
		return
	}

	prev := s.snap.Load()
	next := &Snapshot{version: prev.version + 1, current: prev.current, forecast: prev.forecast}
	var changed Field
	if a.current != nil {
		next.current = a.current
		changed |= FieldCurrent
		observability.ViewUpdatesTotal.WithLabelValues("current").Inc()
	}
	if a.forecast != nil {
		next.forecast = a.forecast
		changed |= FieldForecast
		observability.ViewUpdatesTotal.WithLabelValues("forecast").Inc()
	}
	if changed == 0 {
		return
	}
	s.snap.Store(next)
	s.logger.Debug("view state updated",
		zap.String("changed", changed.String()),
		zap.Uint64("version", next.version))
	s.broadcastUpdate(Update{Changed: changed, Snapshot: next})
}

func (s *Store) broadcastUpdate(u Update) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.updates <- u:
		default:
			observability.ViewUpdatesDroppedTotal.Inc()
			s.logger.Warn("dropping view update for slow subscriber", zap.String("subscriber", sub.ID.String()))
		}
	}
}

func (s *Store) broadcastAlert(a Alert) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.alerts <- a:
		default:
			observability.ViewUpdatesDroppedTotal.Inc()
			s.logger.Warn("dropping alert for slow subscriber", zap.String("subscriber", sub.ID.String()))
		}
	}
}
