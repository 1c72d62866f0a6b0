package approval_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sessionworks/broker/approval"
	"github.com/sessionworks/broker/clock"
)

// recorder collects resolutions from the registry's settle callback. The
// mutex guards against the timeout timer goroutine.
type recorder struct {
	mu          sync.Mutex
	resolutions []approval.Resolution
}

func (r *recorder) settle(res approval.Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolutions = append(r.resolutions, res)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resolutions)
}

func (r *recorder) find(correlationID string) (approval.Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.resolutions {
		if res.CorrelationID == correlationID {
			return res, true
		}
	}
	return approval.Resolution{}, false
}

func TestCreateResolve(t *testing.T) {
	rec := &recorder{}
	reg := approval.NewRegistry(clock.NewFake(), 0, rec.settle)

	if err := reg.Create("corr-1", approval.KindPermission, "turn-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if reg.Pending() != 1 {
		t.Errorf("pending = %d, want 1", reg.Pending())
	}

	if err := reg.Resolve("corr-1", true, "go ahead"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	res, ok := rec.find("corr-1")
	if !ok {
		t.Fatal("resolution never reached the settle callback")
	}
	if res.Outcome != approval.OutcomeResolved {
		t.Errorf("outcome = %q, want resolved", res.Outcome)
	}
	if !res.Approved || res.Payload != "go ahead" {
		t.Errorf("resolution = %+v, want approved with payload", res)
	}
	if res.Kind != approval.KindPermission {
		t.Errorf("kind = %q, want permission", res.Kind)
	}
	if reg.Pending() != 0 {
		t.Errorf("pending = %d after resolve, want 0", reg.Pending())
	}
}

func TestCreate_DuplicateCorrelation(t *testing.T) {
	reg := approval.NewRegistry(clock.NewFake(), 0, nil)

	if err := reg.Create("corr-1", approval.KindPermission, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Create("corr-1", approval.KindQuestion, ""); !errors.Is(err, approval.ErrDuplicateCorrelation) {
		t.Errorf("got %v, want ErrDuplicateCorrelation", err)
	}
}

func TestResolve_UnknownAndSecondResolve(t *testing.T) {
	rec := &recorder{}
	reg := approval.NewRegistry(clock.NewFake(), 0, rec.settle)

	if err := reg.Resolve("nope", true, ""); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("unknown ID: got %v, want ErrNotFound", err)
	}

	reg.Create("corr-1", approval.KindPermission, "")
	if err := reg.Resolve("corr-1", true, ""); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	// At most one resolve succeeds per correlation ID.
	if err := reg.Resolve("corr-1", false, ""); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("second resolve: got %v, want ErrNotFound", err)
	}
	if rec.count() != 1 {
		t.Errorf("settle callback ran %d times, want 1", rec.count())
	}
}

func TestTimeout(t *testing.T) {
	fake := clock.NewFake()
	rec := &recorder{}
	reg := approval.NewRegistry(fake, 30*time.Second, rec.settle)

	reg.Create("corr-1", approval.KindQuestion, "turn-1")

	fake.Advance(29 * time.Second)
	if rec.count() != 0 {
		t.Fatal("approval timed out early")
	}

	fake.Advance(time.Second)
	res, ok := rec.find("corr-1")
	if !ok {
		t.Fatal("timeout never reached the settle callback")
	}
	if res.Outcome != approval.OutcomeTimedOut {
		t.Errorf("outcome = %q, want timed_out", res.Outcome)
	}

	// Timer fired; a late client response is stale.
	if err := reg.Resolve("corr-1", true, ""); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("post-timeout resolve: got %v, want ErrNotFound", err)
	}
}

func TestResolve_CancelsTimer(t *testing.T) {
	fake := clock.NewFake()
	rec := &recorder{}
	reg := approval.NewRegistry(fake, 30*time.Second, rec.settle)

	reg.Create("corr-1", approval.KindPermission, "")
	if err := reg.Resolve("corr-1", true, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The timer must never fire after resolution: advancing past the
	// deadline produces no second settlement.
	fake.Advance(time.Minute)
	if rec.count() != 1 {
		t.Errorf("settle callback ran %d times, want 1", rec.count())
	}
}

func TestCancelTurn(t *testing.T) {
	rec := &recorder{}
	reg := approval.NewRegistry(clock.NewFake(), 0, rec.settle)

	reg.Create("corr-1", approval.KindPermission, "turn-1")
	reg.Create("corr-2", approval.KindPermission, "turn-2")

	if got := reg.CancelTurn("turn-1"); got != 1 {
		t.Errorf("CancelTurn cancelled %d, want 1", got)
	}

	res, ok := rec.find("corr-1")
	if !ok {
		t.Fatal("cancellation never reached the settle callback")
	}
	if res.Outcome != approval.OutcomeCancelled {
		t.Errorf("outcome = %q, want cancelled", res.Outcome)
	}
	if _, ok := rec.find("corr-2"); ok {
		t.Error("approval from another turn was cancelled")
	}
}

func TestCancelAll(t *testing.T) {
	rec := &recorder{}
	reg := approval.NewRegistry(clock.NewFake(), 0, rec.settle)

	reg.Create("corr-1", approval.KindPermission, "t1")
	reg.Create("corr-2", approval.KindQuestion, "t2")

	if got := reg.CancelAll(); got != 2 {
		t.Errorf("CancelAll cancelled %d, want 2", got)
	}
	if reg.Pending() != 0 {
		t.Errorf("pending = %d after CancelAll, want 0", reg.Pending())
	}

	for _, id := range []string{"corr-1", "corr-2"} {
		res, ok := rec.find(id)
		if !ok {
			t.Fatalf("no settlement recorded for %s", id)
		}
		if res.Outcome != approval.OutcomeCancelled {
			t.Errorf("%s outcome = %q, want cancelled", id, res.Outcome)
		}
	}
}
