package providers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func pricingServer(calls *int32, fail bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if fail {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"test/model","name":"Test","pricing":{"prompt":"0.000003","completion":"0.000015"}},
			{"id":"free/model","name":"Free","pricing":{"prompt":"0","completion":"0"}},
			{"id":"weird/model","name":"Weird","pricing":{"prompt":"nope","completion":"-1"}}
		]}`)
	}))
}

func TestCostTracker(t *testing.T) {
	var calls int32
	srv := pricingServer(&calls, false)
	defer srv.Close()

	tracker := NewCostTracker(NewClient(srv.URL, "key"))

	// 1000*0.000003 + 500*0.000015 = 0.003 + 0.0075
	if got := tracker.Cost(t.Context(), "test/model", 1000, 500); got != 0.0105 {
		t.Errorf("cost = %v, want 0.0105", got)
	}
	if got := tracker.Cost(t.Context(), "free/model", 1000, 500); got != 0 {
		t.Errorf("free model cost = %v, want 0", got)
	}
	// unparseable prices fall back to zero
	if got := tracker.Cost(t.Context(), "weird/model", 1000, 500); got != 0 {
		t.Errorf("weird model cost = %v, want 0", got)
	}
	if calls != 1 {
		t.Errorf("catalog fetched %d times within TTL, want 1", calls)
	}
}

func TestCostRounding(t *testing.T) {
	var calls int32
	srv := pricingServer(&calls, false)
	defer srv.Close()

	tracker := NewCostTracker(NewClient(srv.URL, "key"))
	// 1*0.000003 + 1*0.000015 = 0.000018, already 6 decimals
	if got := tracker.Cost(t.Context(), "test/model", 1, 1); got != 0.000018 {
		t.Errorf("cost = %v, want 0.000018", got)
	}
	// 1*0.000003 rounds cleanly; a third of a micro-dollar would not
	if got := tracker.Cost(t.Context(), "test/model", 1, 0); got != 0.000003 {
		t.Errorf("cost = %v, want 0.000003", got)
	}
}

func TestCostTrackerTTLRefresh(t *testing.T) {
	var calls int32
	srv := pricingServer(&calls, false)
	defer srv.Close()

	tracker := NewCostTracker(NewClient(srv.URL, "key"))
	base := time.Now()
	tracker.now = func() time.Time { return base }

	tracker.Cost(t.Context(), "test/model", 1, 1)
	tracker.Cost(t.Context(), "test/model", 1, 1)
	if calls != 1 {
		t.Fatalf("fetched %d times, want 1", calls)
	}

	tracker.now = func() time.Time { return base.Add(25 * time.Hour) }
	tracker.Cost(t.Context(), "test/model", 1, 1)
	if calls != 2 {
		t.Errorf("fetched %d times after TTL, want 2", calls)
	}
}

func TestCostTrackerDegradesOnFailure(t *testing.T) {
	var calls int32
	srv := pricingServer(&calls, true)
	defer srv.Close()

	tracker := NewCostTracker(NewClient(srv.URL, "key"))
	if got := tracker.Cost(t.Context(), "test/model", 1000, 1000); got != 0 {
		t.Errorf("cost = %v, want 0 when pricing is unavailable", got)
	}
}
