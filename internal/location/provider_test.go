package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelvins/geocoder"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/balandzin/Weather-API/internal/models"
)

// recorder collects provider events.
type recorder struct {
	mu      sync.Mutex
	coords  []models.Coordinate
	denials int
	got     chan models.Coordinate
}

func newRecorder() *recorder {
	return &recorder{got: make(chan models.Coordinate, 64)}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnLocation: func(c models.Coordinate) {
			r.mu.Lock()
			r.coords = append(r.coords, c)
			r.mu.Unlock()
			select {
			case r.got <- c:
			default:
			}
		},
		OnDenied: func() {
			r.mu.Lock()
			r.denials++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) deniedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.denials
}

func (r *recorder) waitLocation(t *testing.T) models.Coordinate {
	t.Helper()
	select {
	case c := <-r.got:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for location")
	}
	return models.Coordinate{}
}

// countingSource reports a fixed coordinate and counts calls.
type countingSource struct {
	coord models.Coordinate
	err   error
	calls atomic.Int32
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Locate(ctx context.Context) (models.Coordinate, error) {
	s.calls.Add(1)
	return s.coord, s.err
}

var minsk = models.Coordinate{Latitude: 53.9, Longitude: 27.56}

func TestProvider_StartAuthorizedEmitsLocation(t *testing.T) {
	rec := newRecorder()
	p := NewProvider(StaticSource{Coordinate: minsk}, rec.handlers(), Options{Initial: Authorized})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if got := rec.waitLocation(t); got != minsk {
		t.Errorf("OnLocation(%+v), want %+v", got, minsk)
	}
	if rec.deniedCount() != 0 {
		t.Errorf("OnDenied fired %d times, want 0", rec.deniedCount())
	}
}

func TestProvider_StartResolvesNotDetermined(t *testing.T) {
	tests := []struct {
		name       string
		grant      Authorization
		wantAuth   Authorization
		wantDenied int
	}{
		{"default grant", NotDetermined, Authorized, 0},
		{"granted", Authorized, Authorized, 0},
		{"denied", Denied, Denied, 1},
		{"restricted", Restricted, Restricted, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			src := &countingSource{coord: minsk}
			p := NewProvider(src, rec.handlers(), Options{Grant: tt.grant})
			if err := p.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			p.Stop()

			if got := p.Authorization(); got != tt.wantAuth {
				t.Errorf("Authorization() = %v, want %v", got, tt.wantAuth)
			}
			if got := rec.deniedCount(); got != tt.wantDenied {
				t.Errorf("OnDenied count = %d, want %d", got, tt.wantDenied)
			}
			if tt.wantAuth.Revoked() && src.calls.Load() != 0 {
				t.Errorf("source called %d times while denied", src.calls.Load())
			}
		})
	}
}

// TestProvider_DeniedFiresOncePerTransition verifies OnDenied fires exactly once for each
// move from a non-denied state into a denied one.
func TestProvider_DeniedFiresOncePerTransition(t *testing.T) {
	rec := newRecorder()
	p := NewProvider(&countingSource{coord: minsk}, rec.handlers(), Options{Initial: Authorized})

	steps := []struct {
		to   Authorization
		want int
	}{
		{Denied, 1},
		{Denied, 1},
		{Restricted, 1},
		{Authorized, 1},
		{Restricted, 2},
		{NotDetermined, 2},
		{Denied, 3},
	}
	for i, s := range steps {
		p.SetAuthorization(s.to)
		if got := rec.deniedCount(); got != s.want {
			t.Fatalf("step %d (-> %v): OnDenied count = %d, want %d", i, s.to, got, s.want)
		}
	}
}

func TestProvider_DenialStopsAndReauthorizationRestarts(t *testing.T) {
	rec := newRecorder()
	src := &countingSource{coord: minsk}
	p := NewProvider(src, rec.handlers(), Options{Initial: Authorized, PollInterval: 10 * time.Millisecond})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	rec.waitLocation(t)
	p.SetAuthorization(Denied)
	if p.Running() {
		t.Fatal("Running() = true after denial")
	}

	// Drain anything emitted before cancellation took effect.
	time.Sleep(30 * time.Millisecond)
	for len(rec.got) > 0 {
		<-rec.got
	}
	before := src.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if after := src.calls.Load(); after != before {
		t.Errorf("source polled %d more times while denied", after-before)
	}

	p.SetAuthorization(Authorized)
	if !p.Running() {
		t.Fatal("Running() = false after reauthorization")
	}
	rec.waitLocation(t)
}

func TestProvider_AuthorizationWhileStoppedDoesNotRun(t *testing.T) {
	src := &countingSource{coord: minsk}
	p := NewProvider(src, Handlers{}, Options{Initial: Denied})
	p.SetAuthorization(Authorized)
	if p.Running() {
		t.Error("Running() = true before Start")
	}
	if src.calls.Load() != 0 {
		t.Errorf("source called %d times before Start", src.calls.Load())
	}
}

func TestProvider_StartTwice(t *testing.T) {
	p := NewProvider(StaticSource{}, Handlers{}, Options{Initial: Authorized})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestProvider_StopThenStartAgain(t *testing.T) {
	rec := newRecorder()
	p := NewProvider(StaticSource{Coordinate: minsk}, rec.handlers(), Options{Initial: Authorized})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec.waitLocation(t)
	p.Stop()
	p.Stop()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	defer p.Stop()
	rec.waitLocation(t)
}

func TestProvider_PollsRepeatedly(t *testing.T) {
	rec := newRecorder()
	p := NewProvider(&countingSource{coord: minsk}, rec.handlers(), Options{Initial: Authorized, PollInterval: 5 * time.Millisecond})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	for i := 0; i < 3; i++ {
		rec.waitLocation(t)
	}
}

// TestProvider_SourceErrorsAreSwallowed verifies that a failing source logs and emits nothing.
func TestProvider_SourceErrorsAreSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := newRecorder()
	src := &countingSource{err: errors.New("gps unavailable")}
	p := NewProvider(src, rec.handlers(), Options{Initial: Authorized, Logger: zap.New(core)})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitCalls(t, src, 1)
	p.Stop()

	if len(rec.got) != 0 {
		t.Errorf("OnLocation fired %d times for failing source", len(rec.got))
	}
	if n := logs.FilterMessage("location source failed").Len(); n != 1 {
		t.Errorf("warn logs = %d, want 1", n)
	}
}

func waitCalls(t *testing.T, src *countingSource, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("source called %d times, want >= %d", src.calls.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// blockingSource waits for cancellation and then fails with err.
type blockingSource struct {
	err     error
	entered chan struct{}
}

func (s *blockingSource) Name() string { return "blocking" }

func (s *blockingSource) Locate(ctx context.Context) (models.Coordinate, error) {
	close(s.entered)
	<-ctx.Done()
	if s.err != nil {
		return models.Coordinate{}, s.err
	}
	return models.Coordinate{}, ctx.Err()
}

// TestProvider_SourceErrorLoggedDuringStop verifies a source failure is logged even when
// Stop cancels the run, while the cancellation error itself stays quiet.
func TestProvider_SourceErrorLoggedDuringStop(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantLogs int
	}{
		{"own error", errors.New("gps unavailable"), 1},
		{"context error", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			src := &blockingSource{err: tt.err, entered: make(chan struct{})}
			p := NewProvider(src, Handlers{}, Options{Initial: Authorized, Logger: zap.New(core)})
			if err := p.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			select {
			case <-src.entered:
			case <-time.After(2 * time.Second):
				t.Fatal("source never called")
			}
			p.Stop()

			if n := logs.FilterMessage("location source failed").Len(); n != tt.wantLogs {
				t.Errorf("warn logs = %d, want %d", n, tt.wantLogs)
			}
		})
	}
}

func TestProvider_ContextCancelStopsSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &countingSource{coord: minsk}
	p := NewProvider(src, Handlers{}, Options{Initial: Authorized, PollInterval: 5 * time.Millisecond})
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	p.Stop()
	calls := src.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if src.calls.Load() != calls {
		t.Error("source kept polling after context cancel")
	}
}

func TestParseAuthorization(t *testing.T) {
	tests := []struct {
		in      string
		want    Authorization
		wantErr bool
	}{
		{"authorized", Authorized, false},
		{"DENIED", Denied, false},
		{" restricted ", Restricted, false},
		{"", NotDetermined, false},
		{"not_determined", NotDetermined, false},
		{"maybe", NotDetermined, true},
	}
	for _, tt := range tests {
		got, err := ParseAuthorization(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAuthorization(%q) = %v, %v", tt.in, got, err)
		}
		if err == nil && tt.in != "" {
			if back, _ := ParseAuthorization(got.String()); back != got {
				t.Errorf("String() round trip of %v = %v", got, back)
			}
		}
	}
}

func TestIPSource_Locate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    models.Coordinate
		wantErr bool
	}{
		{"success", http.StatusOK, `{"status":"success","lat":51.5,"lon":-0.12}`, models.Coordinate{Latitude: 51.5, Longitude: -0.12}, false},
		{"fail status", http.StatusOK, `{"status":"fail","message":"private range"}`, models.Coordinate{}, true},
		{"missing lon", http.StatusOK, `{"status":"success","lat":51.5}`, models.Coordinate{}, true},
		{"bad json", http.StatusOK, `nope`, models.Coordinate{}, true},
		{"http error", http.StatusServiceUnavailable, `{}`, models.Coordinate{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := NewIPSource(server.URL, time.Second).Locate(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Locate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Locate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIPSource_DefaultURL(t *testing.T) {
	if s := NewIPSource("", 0); s.URL != DefaultIPURL || s.HTTPClient.Timeout != 10*time.Second {
		t.Errorf("NewIPSource defaults = %q, %v", s.URL, s.HTTPClient.Timeout)
	}
}

func TestGeocodeSource_Locate(t *testing.T) {
	src := NewGeocodeSource("", "", "London", "", "United Kingdom")
	var gotCity string
	src.geocode = func(a geocoder.Address) (geocoder.Location, error) {
		gotCity = a.City
		return geocoder.Location{Latitude: 51.5, Longitude: -0.12}, nil
	}
	got, err := src.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if got.Latitude != 51.5 || got.Longitude != -0.12 || gotCity != "London" {
		t.Errorf("Locate() = %+v (city %q)", got, gotCity)
	}

	src.geocode = func(geocoder.Address) (geocoder.Location, error) {
		return geocoder.Location{}, errors.New("ZERO_RESULTS")
	}
	if _, err := src.Locate(context.Background()); err == nil {
		t.Error("Locate() error = nil, want geocoder failure")
	}
}

func TestGeocodeSource_EmptyAddress(t *testing.T) {
	src := NewGeocodeSource("", "", "", "", "")
	src.geocode = func(geocoder.Address) (geocoder.Location, error) {
		t.Fatal("geocoder called for empty address")
		return geocoder.Location{}, nil
	}
	if _, err := src.Locate(context.Background()); err == nil {
		t.Error("Locate() error = nil, want empty address error")
	}
}
