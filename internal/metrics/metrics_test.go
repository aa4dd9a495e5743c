package metrics

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCountersSnapshot(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncSucceeded()
			c.IncDegraded("routing")
		}()
	}
	wg.Wait()
	c.IncFailed("timeout")
	c.IncFailed("timeout")
	c.IncFailed("job_failed")

	want := Snapshot{
		Succeeded: 10,
		Failed:    3,
		Errors:    map[string]int64{"timeout": 2, "job_failed": 1},
		Degraded:  map[string]int64{"routing": 10},
	}
	snap := c.Snapshot()
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot (-want +got):\n%s", diff)
	}

	snap.Errors["timeout"] = 99
	if c.Snapshot().Errors["timeout"] != 2 {
		t.Fatalf("snapshot shares state with counters")
	}
}
