package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeBackend struct {
	mu       sync.Mutex
	statuses []string
	reason   string
	audit    string
	creates  int32
	polls    int32
	lastAuth string
	lastJob  map[string]any
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /workflows", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		atomic.AddInt32(&f.creates, 1)
		var def Definition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil || len(def.Nodes) == 0 {
			http.Error(w, "bad definition", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"workflow_id": "wf-1"})
	})
	mux.HandleFunc("POST /workflows/{id}/jobs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastJob = body
		f.mu.Unlock()
		writeJSON(w, map[string]string{"job_id": "job-" + r.PathValue("id")})
	})
	mux.HandleFunc("GET /jobs/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&f.polls, 1)) - 1
		f.mu.Lock()
		defer f.mu.Unlock()
		st := f.statuses[len(f.statuses)-1]
		if n < len(f.statuses) {
			st = f.statuses[n]
		}
		resp := map[string]any{"status": st}
		if st == "failed" {
			resp["error"] = f.reason
		}
		writeJSON(w, resp)
	})
	mux.HandleFunc("GET /job/{id}/audit", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobExecutionId":"exec-` + r.PathValue("id") + `","auditTrail":` + f.audit + `}`))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

func newTestOrchestrator(t *testing.T, fb *fakeBackend, workflowID string) (*Orchestrator, *fakeClock) {
	t.Helper()
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)
	o := NewOrchestrator(NewClient(srv.URL, "secret", 5*time.Second), workflowID, "http://app.local/")
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	o.now = clock.now
	o.after = clock.after
	return o, clock
}

func TestPollCompletedFirstCheckDoesNotSleep(t *testing.T) {
	fb := &fakeBackend{statuses: []string{"completed"}, audit: `{"department":"Public Works","confidence":0.9}`}
	o, clock := newTestOrchestrator(t, fb, "wf-1")

	audit, err := o.PollUntilTerminal(context.Background(), "job-1", 30*time.Second, time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("slept %v before returning a completed job", clock.sleeps)
	}
	if audit.JobExecutionID != "exec-job-1" {
		t.Fatalf("execution id = %q", audit.JobExecutionID)
	}
	if audit.Department == nil || audit.Department.Department != "Public Works" {
		t.Fatalf("department = %+v", audit.Department)
	}
	if audit.Confidence == nil || *audit.Confidence != 0.9 {
		t.Fatalf("confidence = %v", audit.Confidence)
	}
}

func TestPollQueuedThenCompleted(t *testing.T) {
	fb := &fakeBackend{statuses: []string{"queued", "running", "completed"}, audit: `{}`}
	o, clock := newTestOrchestrator(t, fb, "wf-1")

	if _, err := o.PollUntilTerminal(context.Background(), "job-1", 30*time.Second, time.Second); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{time.Second, time.Second}, clock.sleeps); diff != "" {
		t.Fatalf("sleeps (-want +got):\n%s", diff)
	}
}

func TestPollTimeoutBounds(t *testing.T) {
	fb := &fakeBackend{statuses: []string{"running"}}
	o, clock := newTestOrchestrator(t, fb, "wf-1")
	start := clock.t
	maxWait, interval := 5*time.Second, 2*time.Second

	_, err := o.PollUntilTerminal(context.Background(), "job-1", maxWait, interval)
	if !errors.Is(err, ErrJobTimeout) {
		t.Fatalf("err = %v, want ErrJobTimeout", err)
	}
	elapsed := clock.t.Sub(start)
	if elapsed < maxWait || elapsed > maxWait+interval {
		t.Fatalf("timed out after %s, want within [%s, %s]", elapsed, maxWait, maxWait+interval)
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Second, 2 * time.Second, time.Second}, clock.sleeps); diff != "" {
		t.Fatalf("sleeps (-want +got):\n%s", diff)
	}
}

func TestPollTimeoutRealClock(t *testing.T) {
	fb := &fakeBackend{statuses: []string{"running"}}
	srv := httptest.NewServer(fb.handler())
	defer srv.Close()
	o := NewOrchestrator(NewClient(srv.URL, "secret", time.Second), "wf-1", "")

	start := time.Now()
	_, err := o.PollUntilTerminal(context.Background(), "job-1", 60*time.Millisecond, 20*time.Millisecond)
	if !errors.Is(err, ErrJobTimeout) {
		t.Fatalf("err = %v, want ErrJobTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("timed out early after %s", elapsed)
	}
}

func TestPollFailedCarriesReason(t *testing.T) {
	fb := &fakeBackend{statuses: []string{"running", "failed"}, reason: "X"}
	o, _ := newTestOrchestrator(t, fb, "wf-1")

	_, err := o.PollUntilTerminal(context.Background(), "job-1", 30*time.Second, time.Second)
	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want JobFailedError", err)
	}
	if failed.Reason != "X" || !strings.Contains(err.Error(), "X") {
		t.Fatalf("failure reason lost: %v", err)
	}
}

func TestPollCanceled(t *testing.T) {
	fb := &fakeBackend{statuses: []string{"running"}}
	srv := httptest.NewServer(fb.handler())
	defer srv.Close()
	o := NewOrchestrator(NewClient(srv.URL, "secret", time.Second), "wf-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := o.PollUntilTerminal(ctx, "job-1", time.Minute, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWorkflowIDCreatedOnce(t *testing.T) {
	fb := &fakeBackend{}
	o, _ := newTestOrchestrator(t, fb, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, err := o.WorkflowID(ctx); err != nil || id != "wf-1" {
				t.Errorf("WorkflowID = %q, %v", id, err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&fb.creates); got != 1 {
		t.Fatalf("definition created %d times, want 1", got)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.lastAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", fb.lastAuth)
	}
}

func TestWorkflowIDConfiguredSkipsCreate(t *testing.T) {
	fb := &fakeBackend{}
	o, _ := newTestOrchestrator(t, fb, "wf-configured")
	id, err := o.WorkflowID(context.Background())
	if err != nil || id != "wf-configured" {
		t.Fatalf("WorkflowID = %q, %v", id, err)
	}
	if got := atomic.LoadInt32(&fb.creates); got != 0 {
		t.Fatalf("definition created %d times, want 0", got)
	}
}

func TestLaunchJobSendsInput(t *testing.T) {
	fb := &fakeBackend{}
	o, _ := newTestOrchestrator(t, fb, "wf-1")
	h, err := o.LaunchJob(context.Background(), "wf-1", map[string]any{"type": "document"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if diff := cmp.Diff(JobHandle{JobID: "job-wf-1", Status: StatusQueued}, h); diff != "" {
		t.Fatalf("handle (-want +got):\n%s", diff)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	input, _ := fb.lastJob["input"].(map[string]any)
	if input["type"] != "document" {
		t.Fatalf("job body = %v", fb.lastJob)
	}
}

func TestUnconfigured(t *testing.T) {
	o := NewOrchestrator(NewClient("http://unused", "", time.Second), "", "")
	ctx := context.Background()
	if _, err := o.CreateWorkflowDefinition(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("create err = %v", err)
	}
	if _, err := o.WorkflowID(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("workflow id err = %v", err)
	}
	if _, err := o.LaunchJob(ctx, "wf", nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("launch err = %v", err)
	}
	if _, err := o.PollUntilTerminal(ctx, "job", time.Second, time.Second); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("poll err = %v", err)
	}
}

func TestAPIErrorIncludesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "secret", time.Second)

	_, err := c.CreateWorkflow(context.Background(), CivicIntakeDefinition(""))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want APIError 429", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("body missing from %q", err)
	}
}

func TestMalformedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{})
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "secret", time.Second)
	ctx := context.Background()

	if _, err := c.CreateWorkflow(ctx, Definition{}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("create err = %v", err)
	}
	if _, err := c.CreateJob(ctx, "wf", nil); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("job err = %v", err)
	}
	if _, err := c.GetJobStatus(ctx, "job"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("status err = %v", err)
	}
}

func TestParseAudit(t *testing.T) {
	conf := 0.55
	tests := []struct {
		name  string
		trail string
		dept  *DepartmentRef
		conf  *float64
	}{
		{name: "string department", trail: `{"department":"Sanitation"}`, dept: &DepartmentRef{Department: "Sanitation"}},
		{name: "object department", trail: `{"department":{"department":"Water Services","service_code":"WAT_003","sla_hours":24},"confidence":0.55}`,
			dept: &DepartmentRef{Department: "Water Services", ServiceCode: "WAT_003", SLAHours: 24}, conf: &conf},
		{name: "encoded document", trail: `{"audit_json":"{\"department\":\"Sanitation\"}"}`, dept: &DepartmentRef{Department: "Sanitation"}},
		{name: "string trail", trail: `"{\"department\":\"Public Works\"}"`, dept: &DepartmentRef{Department: "Public Works"}},
		{name: "no department", trail: `{"steps":[]}`},
		{name: "null", trail: `null`},
		{name: "array", trail: `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := parseAudit("exec", json.RawMessage(tt.trail))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tt.dept, a.Department); diff != "" {
				t.Fatalf("department (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.conf, a.Confidence); diff != "" {
				t.Fatalf("confidence (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus("COMPLETED"); err != nil || st != StatusCompleted {
		t.Fatalf("got %q, %v", st, err)
	}
	if st, err := ParseStatus("waiting_for_review"); err != nil || st != StatusRunning {
		t.Fatalf("unknown status = %q, %v", st, err)
	}
	if _, err := ParseStatus(""); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("empty status err = %v", err)
	}
}

func TestCivicIntakeDefinition(t *testing.T) {
	def := CivicIntakeDefinition("http://app.local/")
	var ids []string
	for _, n := range def.Nodes {
		ids = append(ids, n.ID)
	}
	want := []string{StageIntake, StageExtraction, StageRouting, StageReview, StageHumanReview, StageAuditGeneration, StageDelivery}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("stages (-want +got):\n%s", diff)
	}
	for i, e := range def.Edges {
		if e.From != want[i] || e.To != want[i+1] {
			t.Fatalf("edge %d = %+v, want linear", i, e)
		}
	}
	if len(def.Edges) != len(want)-1 {
		t.Fatalf("edges = %d", len(def.Edges))
	}
	if url := def.Nodes[2].Config["url"]; url != "http://app.local/api/services/find" {
		t.Fatalf("routing url = %v", url)
	}
	if def.Nodes[4].Config["condition"] != "confidence < 0.7" {
		t.Fatalf("human gate condition = %v", def.Nodes[4].Config["condition"])
	}
}
