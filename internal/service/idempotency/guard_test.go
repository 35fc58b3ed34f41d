package idempotency

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

func TestRequestHash(t *testing.T) {
	t.Parallel()

	a := RequestHash(http.MethodPost, "/api/sales", []byte(`{"customerId":"c"}`))
	b := RequestHash(http.MethodPost, "/api/sales", []byte(`{"customerId":"c"}`))
	if a != b {
		t.Fatal("expected stable hash for identical requests")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}

	if a == RequestHash(http.MethodPut, "/api/sales", []byte(`{"customerId":"c"}`)) {
		t.Fatal("expected method to change hash")
	}
	if a == RequestHash(http.MethodPost, "/api/sales/1", []byte(`{"customerId":"c"}`)) {
		t.Fatal("expected path to change hash")
	}
	if a == RequestHash(http.MethodPost, "/api/sales", []byte(`{"customerId":"d"}`)) {
		t.Fatal("expected body to change hash")
	}
}

func TestGuard_FirstRequestProceeds(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	replay, err := guard.Begin("key-1", "hash-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if replay != nil {
		t.Fatalf("expected no replay for first request, got %+v", replay)
	}
}

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	if _, err := guard.Begin("key-2", "hash-2"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	guard.Complete("key-2", http.StatusCreated, []byte(`{"success":true}`))

	replay, err := guard.Begin("key-2", "hash-2")
	if err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}
	if replay == nil {
		t.Fatal("expected cached response")
	}
	if replay.Status != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", replay.Status)
	}
	if string(replay.Body) != `{"success":true}` {
		t.Fatalf("unexpected cached body %s", replay.Body)
	}
}

func TestGuard_ReplaysFailedResponse(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Hour, nil)

	if _, err := guard.Begin("key-3", "hash-3"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	guard.Complete("key-3", http.StatusNotFound, []byte(`{"success":false}`))

	record, err := repo.Get("key-3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusFailed {
		t.Fatalf("expected failed status, got %s", record.Status)
	}

	replay, err := guard.Begin("key-3", "hash-3")
	if err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}
	if replay == nil || replay.Status != http.StatusNotFound {
		t.Fatalf("expected cached 404, got %+v", replay)
	}
}

func TestGuard_RejectsDifferentPayload(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	if _, err := guard.Begin("key-4", "hash-4"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	guard.Complete("key-4", http.StatusOK, nil)

	if _, err := guard.Begin("key-4", "other-hash"); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestGuard_InFlightRequest(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	if _, err := guard.Begin("key-5", "hash-5"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := guard.Begin("key-5", "hash-5"); !errors.Is(err, domain.ErrIdempotencyInProgress) {
		t.Fatalf("expected ErrIdempotencyInProgress, got %v", err)
	}
}

func TestGuard_EmptyKey(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	if guard.ttl != domain.DefaultIdempotencyTTL {
		t.Fatalf("expected default ttl, got %s", guard.ttl)
	}

	if _, err := guard.Begin("   ", "hash"); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	guard.Complete("", http.StatusOK, nil)
}

func TestGuard_RepositoryFailure(t *testing.T) {
	t.Parallel()

	guard := NewGuard(brokenRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}, time.Hour, nil)

	_, err := guard.Begin("key-6", "hash-6")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrIdempotencyInProgress) || errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("unexpected classification of storage error: %v", err)
	}
}

// brokenRepo не может занять ключ, как хранилище с упавшим соединением.
type brokenRepo struct {
	*memory.IdempotencyRepository
}

func (brokenRepo) CreateProcessing(string, string, time.Time) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, errors.New("db down")
}
