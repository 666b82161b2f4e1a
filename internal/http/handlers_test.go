package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/balandzin/Weather-API/internal/location"
	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/validation"
	"github.com/balandzin/Weather-API/internal/viewstate"
)

type fakeRefresher struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, city string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, city)
	return f.err
}

func (f *fakeRefresher) cities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeKeyChecker struct{ err error }

func (f fakeKeyChecker) ValidateAPIKey(ctx context.Context) error { return f.err }

type fakeAuthorizer struct {
	mu sync.Mutex
	a  location.Authorization
}

func (f *fakeAuthorizer) SetAuthorization(a location.Authorization) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.a = a
}

func (f *fakeAuthorizer) Authorization() location.Authorization {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.a
}

var (
	london = &models.CurrentConditions{
		LocationName: "London", Temperature: 12,
		Conditions: []models.ConditionDetail{{Description: "clear sky", IconCode: "01d"}},
	}
	londonForecast = &models.ForecastBundle{Entries: []models.ForecastEntry{
		{Timestamp: 1700000000, Temperature: 11, Conditions: []models.ConditionDetail{{Description: "light rain", IconCode: "10d"}}},
	}}
)

// runStore starts s and stops it when the test ends.
func runStore(t *testing.T, s *viewstate.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// populate applies c and b and blocks until both are visible.
func populate(t *testing.T, s *viewstate.Store, c *models.CurrentConditions, b *models.ForecastBundle) {
	t.Helper()
	sub := s.Subscribe(4)
	defer sub.Unsubscribe()
	s.SetCurrent(c)
	s.SetForecast(b)
	for i := 0; i < 2; i++ {
		select {
		case <-sub.Updates:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for store update")
		}
	}
}

func newTestHandler(t *testing.T, r Refresher, k APIKeyChecker, a Authorizer, cfg HandlerConfig) (*Handler, *viewstate.Store) {
	t.Helper()
	store := viewstate.NewStore(nil)
	runStore(t, store)
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return NewHandler(store, r, k, a, cfg, zap.NewNop()), store
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestHandler_GetCurrent_Empty(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRefresher{}, nil, nil, HandlerConfig{})

	w := httptest.NewRecorder()
	h.GetCurrent(w, httptest.NewRequest(http.MethodGet, "/weather/current", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got currentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Current.Populated || got.Current.City != "" || got.Current.Advice != "" {
		t.Errorf("current = %+v, want empty view", got.Current)
	}
	if got.Version != 0 {
		t.Errorf("version = %d, want 0", got.Version)
	}
}

func TestHandler_GetCurrent_Populated(t *testing.T) {
	h, store := newTestHandler(t, &fakeRefresher{}, nil, nil, HandlerConfig{})
	populate(t, store, london, londonForecast)

	w := httptest.NewRecorder()
	h.GetCurrent(w, httptest.NewRequest(http.MethodGet, "/weather/current", nil))

	var got currentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := viewstate.ProjectCurrent(london)
	if got.Current != want {
		t.Errorf("current = %+v, want %+v", got.Current, want)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestHandler_GetForecast(t *testing.T) {
	h, store := newTestHandler(t, &fakeRefresher{}, nil, nil, HandlerConfig{})

	w := httptest.NewRecorder()
	h.GetForecast(w, httptest.NewRequest(http.MethodGet, "/weather/forecast", nil))
	if !strings.Contains(w.Body.String(), `"rows":[]`) {
		t.Errorf("empty forecast body = %s, want rows []", w.Body.String())
	}

	populate(t, store, london, londonForecast)
	w = httptest.NewRecorder()
	h.GetForecast(w, httptest.NewRequest(http.MethodGet, "/weather/forecast", nil))

	var got forecastResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Populated || len(got.Rows) != 1 {
		t.Fatalf("forecast = %+v, want one populated row", got)
	}
	if got.Rows[0].Text != "14 Nov, 22:13: 11°C, Light Rain" {
		t.Errorf("row text = %q", got.Rows[0].Text)
	}
}

func TestHandler_PostRefresh(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		refreshErr error
		wantStatus int
		wantCode   string
		wantCalls  int
		wantAlert  bool
	}{
		{"accepted", `{"city":"London"}`, nil, http.StatusAccepted, "", 1, false},
		{"missing city", `{}`, nil, http.StatusBadRequest, "EMPTY_INPUT", 0, true},
		{"empty city", `{"city":""}`, nil, http.StatusBadRequest, "EMPTY_INPUT", 0, true},
		{"whitespace city", `{"city":"   "}`, validation.ErrEmptyInput, http.StatusBadRequest, "EMPTY_INPUT", 1, false},
		{"too long", `{"city":"x"}`, fmt.Errorf("%w: 101 > 100", validation.ErrCityTooLong), http.StatusBadRequest, "INVALID_CITY", 1, false},
		{"control chars", `{"city":"a\u0001"}`, validation.ErrCityInvalidChars, http.StatusBadRequest, "INVALID_CITY", 1, false},
		{"not json", `city=London`, nil, http.StatusBadRequest, "INVALID_BODY", 0, false},
		{"unexpected", `{"city":"London"}`, errors.New("boom"), http.StatusInternalServerError, "INTERNAL", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := &fakeRefresher{err: tt.refreshErr}
			h, store := newTestHandler(t, ref, nil, nil, HandlerConfig{})
			sub := store.Subscribe(4)
			defer sub.Unsubscribe()

			w := httptest.NewRecorder()
			h.PostRefresh(w, httptest.NewRequest(http.MethodPost, "/weather/refresh", strings.NewReader(tt.body)))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantCode != "" {
				if got := decodeError(t, w).Error.Code; got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
			}
			if got := len(ref.cities()); got != tt.wantCalls {
				t.Errorf("Refresh calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.wantAlert {
				select {
				case a := <-sub.Alerts:
					if a.Kind != viewstate.AlertEmptyInput {
						t.Errorf("alert = %v, want empty_input", a.Kind)
					}
				case <-time.After(2 * time.Second):
					t.Fatal("timed out waiting for empty input alert")
				}
			}
		})
	}
}

func TestHandler_PostRefresh_CityVerbatim(t *testing.T) {
	ref := &fakeRefresher{}
	h, _ := newTestHandler(t, ref, nil, nil, HandlerConfig{})

	w := httptest.NewRecorder()
	h.PostRefresh(w, httptest.NewRequest(http.MethodPost, "/weather/refresh", strings.NewReader(`{"city":" New York "}`)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if got := ref.cities(); len(got) != 1 || got[0] != " New York " {
		t.Errorf("Refresh cities = %q, want [\" New York \"]", got)
	}
}

func TestHandler_PutAuthorization(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		h, _ := newTestHandler(t, &fakeRefresher{}, nil, nil, HandlerConfig{})
		w := httptest.NewRecorder()
		h.PutAuthorization(w, httptest.NewRequest(http.MethodPut, "/location/authorization", strings.NewReader(`{"status":"denied"}`)))
		if w.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", w.Code)
		}
		if got := decodeError(t, w).Error.Code; got != "LOCATION_DISABLED" {
			t.Errorf("code = %q", got)
		}
	})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		want       location.Authorization
	}{
		{"denied", `{"status":"denied"}`, http.StatusOK, location.Denied},
		{"restricted", `{"status":"restricted"}`, http.StatusOK, location.Restricted},
		{"authorized", `{"status":"authorized"}`, http.StatusOK, location.Authorized},
		{"unknown status", `{"status":"maybe"}`, http.StatusBadRequest, location.NotDetermined},
		{"missing status", `{}`, http.StatusBadRequest, location.NotDetermined},
		{"bad body", `[`, http.StatusBadRequest, location.NotDetermined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuthorizer{}
			h, _ := newTestHandler(t, &fakeRefresher{}, nil, auth, HandlerConfig{})

			w := httptest.NewRecorder()
			h.PutAuthorization(w, httptest.NewRequest(http.MethodPut, "/location/authorization", strings.NewReader(tt.body)))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := auth.Authorization(); got != tt.want {
				t.Errorf("authorization = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandler_GetHealth(t *testing.T) {
	cacheDown := func(context.Context) error { return errors.New("connection refused") }
	cacheUp := func(context.Context) error { return nil }

	tests := []struct {
		name         string
		keyErr       error
		ping         func(context.Context) error
		shuttingDown bool
		wantStatus   int
		wantBody     string
	}{
		{"healthy", nil, cacheUp, false, http.StatusOK, "healthy"},
		{"api key rejected", errors.New("401"), cacheUp, false, http.StatusServiceUnavailable, "degraded"},
		{"cache unreachable", nil, cacheDown, false, http.StatusServiceUnavailable, "degraded"},
		{"shutting down", nil, cacheUp, true, http.StatusServiceUnavailable, "shutting-down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuthorizer{a: location.Authorized}
			h, _ := newTestHandler(t, &fakeRefresher{}, fakeKeyChecker{err: tt.keyErr}, auth, HandlerConfig{CachePing: tt.ping})
			h.SetShuttingDown(tt.shuttingDown)

			w := httptest.NewRecorder()
			h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %v, want %q", body["status"], tt.wantBody)
			}
			if !tt.shuttingDown {
				checks := body["checks"].(map[string]interface{})
				if checks["location"] != "authorized" {
					t.Errorf("location check = %v, want authorized", checks["location"])
				}
			}
		})
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := viewstate.NewStore(nil)
	runStore(t, store)
	keys := &switchableKeyChecker{}
	h := NewHandler(store, &fakeRefresher{}, keys, nil, HandlerConfig{}, zap.New(core))

	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	keys.set(errors.New("invalid key"))
	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["previous_status"] != "healthy" || ctx["current_status"] != "degraded" {
		t.Errorf("transition fields = %v", ctx)
	}
}

type switchableKeyChecker struct {
	mu  sync.Mutex
	err error
}

func (s *switchableKeyChecker) set(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *switchableKeyChecker) ValidateAPIKey(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func TestWriteError_IncludesCorrelationID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(context.WithValue(r.Context(), "correlation_id", "req-42"))
	w := httptest.NewRecorder()

	writeError(w, r, http.StatusTeapot, "TEAPOT", "short and stout")

	body := decodeError(t, w)
	if body.Error.RequestID != "req-42" || body.Error.Code != "TEAPOT" {
		t.Errorf("error body = %+v", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}
