package inbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/refset/civic-intake/internal/extraction"
	"github.com/refset/civic-intake/internal/pipeline"
	"github.com/refset/civic-intake/internal/queue"
)

type call struct{ kind, content, lang string }

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeRunner) RunPipeline(ctx context.Context, kind, content, lang string) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind, content, lang})
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{JobID: "job-" + kind, Message: "ok"}, nil
}

func (f *fakeRunner) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func startQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q := queue.New(8, 1, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		q.Stop(stopCtx)
		cancel()
	})
	return q
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s never appeared", path)
}

func TestBackfillProcessesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "report.txt"), []byte("  Streetlight broken near 5th Ave \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	w := New(dir, "es", runner, startQueue(t))
	if err := w.Backfill(); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	waitForFile(t, filepath.Join(dir, processedDir, "report.txt.result.json"))

	calls := runner.snapshot()
	if len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0] != (call{"document", "Streetlight broken near 5th Ave", "es"}) {
		t.Fatalf("call = %+v", calls[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.md")); err != nil {
		t.Fatalf("unsupported file was touched: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, processedDir, "report.txt.result.json"))
	if err != nil {
		t.Fatal(err)
	}
	var out outcome
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Result == nil || out.Result.JobID != "job-document" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestFailedRunMovesToFailed(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "photo.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{err: &pipeline.Error{Category: pipeline.CategoryConfigMissing, Message: "workflow backend not configured"}}
	w := New(dir, "", runner, startQueue(t))
	if err := w.Backfill(); err != nil {
		t.Fatal(err)
	}
	waitForFile(t, filepath.Join(dir, failedDir, "photo.png.result.json"))

	data, _ := os.ReadFile(filepath.Join(dir, failedDir, "photo.png.result.json"))
	var out outcome
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Category != "config_missing" {
		t.Fatalf("outcome = %+v", out)
	}
	calls := runner.snapshot()
	if len(calls) != 1 || !strings.HasPrefix(calls[0].content, "data:image/png;base64,") || calls[0].lang != "en" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestRunWatchesNewFiles(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	w := New(dir, "en", runner, startQueue(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	waitForFile(t, filepath.Join(dir, failedDir))
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "pothole.txt"), []byte("pothole on Main St"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForFile(t, filepath.Join(dir, processedDir, "pothole.txt.result.json"))

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}

func TestKindFor(t *testing.T) {
	tests := map[string]extraction.Kind{
		"a.txt":  extraction.KindDocument,
		"b.JPG":  extraction.KindImage,
		"c.jpeg": extraction.KindImage,
		"d.png":  extraction.KindImage,
		"e.webm": extraction.KindVoice,
		"f.wav":  extraction.KindVoice,
		"g.mp3":  extraction.KindVoice,
		"h.ogg":  extraction.KindVoice,
	}
	for name, want := range tests {
		if got, ok := KindFor(name); !ok || got != want {
			t.Fatalf("%s: got %q, %v", name, got, ok)
		}
	}
	if _, ok := KindFor("i.pdf"); ok {
		t.Fatalf("pdf must be unsupported")
	}
}

func TestContent(t *testing.T) {
	got, err := Content("clip.mp3", extraction.KindVoice, []byte("abc"))
	if err != nil || got != "data:audio/mpeg;base64,YWJj" {
		t.Fatalf("content = %q, %v", got, err)
	}
	if _, err := Content("empty.txt", extraction.KindDocument, []byte(" \n")); err == nil {
		t.Fatalf("empty document must fail")
	}
	if _, err := Content("empty.png", extraction.KindImage, nil); err == nil {
		t.Fatalf("empty image must fail")
	}
}
