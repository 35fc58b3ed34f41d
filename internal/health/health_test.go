package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type fixedChecker Check

func (c fixedChecker) Check() Check { return Check(c) }

type statsFunc func() (domain.OutboxStats, error)

func (f statsFunc) Stats() (domain.OutboxStats, error) { return f() }

func handlerWith(checks ...Check) *Handler {
	h := NewHandler("v1.2.3")
	for _, c := range checks {
		h.RegisterChecker(c.Name, fixedChecker(c))
	}
	return h
}

func TestHandler_Endpoints(t *testing.T) {
	healthy := Check{Name: "postgres", Status: StatusHealthy}
	degraded := Check{Name: "outbox", Status: StatusDegraded, Message: "50 pending outbox messages"}
	broken := Check{Name: "mongo", Status: StatusUnhealthy, Message: "server selection timeout"}

	tests := []struct {
		name        string
		checks      []Check
		wantStatus  Status
		wantHealthz int
		wantReadyz  int
		wantBody    string
	}{
		{name: "no checkers", wantStatus: StatusHealthy, wantHealthz: http.StatusOK, wantReadyz: http.StatusOK, wantBody: "ready"},
		{name: "all healthy", checks: []Check{healthy}, wantStatus: StatusHealthy, wantHealthz: http.StatusOK, wantReadyz: http.StatusOK, wantBody: "ready"},
		{name: "degraded outbox stays ready", checks: []Check{healthy, degraded}, wantStatus: StatusDegraded, wantHealthz: http.StatusOK, wantReadyz: http.StatusOK, wantBody: "ready"},
		{name: "unhealthy wins over degraded", checks: []Check{degraded, broken}, wantStatus: StatusUnhealthy, wantHealthz: http.StatusServiceUnavailable, wantReadyz: http.StatusServiceUnavailable, wantBody: "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlerWith(tt.checks...)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if w.Code != tt.wantHealthz {
				t.Errorf("healthz code = %d, want %d", w.Code, tt.wantHealthz)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("healthz content type = %q", ct)
			}

			var resp Response
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode healthz: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", resp.Status, tt.wantStatus)
			}
			if resp.Version != "v1.2.3" {
				t.Errorf("version = %q", resp.Version)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %d, want %d", len(resp.Checks), len(tt.checks))
			}

			w = httptest.NewRecorder()
			h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if w.Code != tt.wantReadyz || w.Body.String() != tt.wantBody {
				t.Errorf("readyz = %d %q, want %d %q", w.Code, w.Body.String(), tt.wantReadyz, tt.wantBody)
			}
		})
	}
}

func TestHandler_RegisterReplacesChecker(t *testing.T) {
	h := handlerWith(Check{Name: "postgres", Status: StatusUnhealthy})
	h.RegisterChecker("postgres", fixedChecker{Name: "postgres", Status: StatusHealthy})

	if got := h.Evaluate(); got.Status != StatusHealthy || len(got.Checks) != 1 {
		t.Fatalf("unexpected evaluation %+v", got)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("livez = %d %q", w.Code, w.Body.String())
	}
}

func TestPingChecker(t *testing.T) {
	t.Run("healthy with default deadline", func(t *testing.T) {
		var deadline time.Time
		checker := NewPingChecker("postgres", 0, func(ctx context.Context) error {
			deadline, _ = ctx.Deadline()
			return nil
		})

		check := checker.Check()
		if check.Status != StatusHealthy || check.Name != "postgres" {
			t.Fatalf("unexpected check %+v", check)
		}
		if left := time.Until(deadline); left <= 0 || left > defaultPingTimeout {
			t.Errorf("ping deadline is %s away", left)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		checker := NewPingChecker("mongo", 10*time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		check := checker.Check()
		if check.Status != StatusUnhealthy || check.Message != context.DeadlineExceeded.Error() {
			t.Fatalf("unexpected check %+v", check)
		}
		if check.Duration < 10*time.Millisecond || check.DurationMs != check.Duration.Milliseconds() {
			t.Errorf("duration %s / %dms", check.Duration, check.DurationMs)
		}
	})
}

func TestOutboxBacklogChecker(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		maxPending int
		maxAge     time.Duration
		stats      domain.OutboxStats
		err        error
		want       Status
	}{
		{name: "empty", maxPending: 10, maxAge: time.Minute, want: StatusHealthy},
		{name: "below limits", maxPending: 10, maxAge: time.Minute, stats: domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-time.Second)}, want: StatusHealthy},
		{name: "too many pending", maxPending: 10, maxAge: time.Minute, stats: domain.OutboxStats{PendingCount: 11, OldestPendingAt: now}, want: StatusDegraded},
		{name: "too old", maxPending: 10, maxAge: time.Minute, stats: domain.OutboxStats{PendingCount: 1, OldestPendingAt: now.Add(-time.Hour)}, want: StatusDegraded},
		{name: "limits disabled", stats: domain.OutboxStats{PendingCount: 5000, OldestPendingAt: now.Add(-24 * time.Hour)}, want: StatusHealthy},
		{name: "stats error", maxPending: 10, err: errors.New("db down"), want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewOutboxBacklogChecker(statsFunc(func() (domain.OutboxStats, error) {
				return tt.stats, tt.err
			}), tt.maxPending, tt.maxAge)
			checker.now = func() time.Time { return now }

			check := checker.Check()
			if check.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", check.Status, tt.want, check.Message)
			}
			if check.Name != "outbox" {
				t.Errorf("name = %q", check.Name)
			}
		})
	}
}
