// Package inbox turns files dropped into a directory into intake runs.
package inbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/refset/civic-intake/internal/extraction"
	"github.com/refset/civic-intake/internal/pipeline"
	"github.com/refset/civic-intake/internal/queue"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
	settleDelay  = 250 * time.Millisecond
)

// Runner executes one intake.
type Runner interface {
	RunPipeline(ctx context.Context, kind, content, lang string) (*pipeline.Result, error)
}

// Watcher feeds new files in dir through the pipeline on a queue.
type Watcher struct {
	dir    string
	lang   string
	runner Runner
	queue  *queue.Queue

	mu      sync.Mutex
	pending map[string]*time.Timer
	active  map[string]bool
}

func New(dir, lang string, runner Runner, q *queue.Queue) *Watcher {
	if lang == "" {
		lang = "en"
	}
	return &Watcher{
		dir:     dir,
		lang:    lang,
		runner:  runner,
		queue:   q,
		pending: make(map[string]*time.Timer),
		active:  make(map[string]bool),
	}
}

// Run backfills existing files and watches dir until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("prepare inbox: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	if err := w.Backfill(); err != nil {
		log.Printf("Warning: inbox backfill failed: %v", err)
	}
	log.Printf("Watching inbox %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule(evt.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: inbox watcher error: %v", err)
		}
	}
}

// Backfill submits files already present in dir.
func (w *Watcher) Backfill() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.submit(filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// schedule waits for writes to a file to settle before submitting it.
func (w *Watcher) schedule(path string) {
	if _, ok := KindFor(path); !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.submit(path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) submit(path string) {
	kind, ok := KindFor(path)
	if !ok {
		return
	}
	w.mu.Lock()
	if w.active[path] {
		w.mu.Unlock()
		return
	}
	w.active[path] = true
	w.mu.Unlock()

	id := uuid.NewString()
	err := w.queue.Enqueue(queue.Job{
		ID:     id,
		Source: "inbox",
		Work: func(ctx context.Context) error {
			return w.process(ctx, path, kind)
		},
		OnFinish: func(error) {
			w.mu.Lock()
			delete(w.active, path)
			w.mu.Unlock()
		},
	})
	if err != nil {
		log.Printf("Warning: could not queue %s: %v", filepath.Base(path), err)
		w.mu.Lock()
		delete(w.active, path)
		w.mu.Unlock()
	}
}

func (w *Watcher) process(ctx context.Context, path string, kind extraction.Kind) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	content, err := Content(path, kind, data)
	if err != nil {
		return w.finish(path, failedDir, nil, err)
	}

	res, err := w.runner.RunPipeline(ctx, string(kind), content, w.lang)
	if err != nil && res == nil {
		return w.finish(path, failedDir, nil, err)
	}
	return w.finish(path, processedDir, res, err)
}

type outcome struct {
	File     string           `json:"file"`
	Result   *pipeline.Result `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
	Category string           `json:"category,omitempty"`
}

// finish moves path into sub and writes the outcome next to it.
func (w *Watcher) finish(path, sub string, res *pipeline.Result, runErr error) error {
	name := filepath.Base(path)
	out := outcome{File: name, Result: res}
	if runErr != nil {
		out.Error = runErr.Error()
		out.Category = string(pipeline.CategoryOf(runErr))
	}
	dest := filepath.Join(w.dir, sub, name)
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move %s: %w", name, err)
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	tmp := dest + ".result.json.tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write outcome for %s: %w", name, err)
	}
	if err := os.Rename(tmp, dest+".result.json"); err != nil {
		return fmt.Errorf("write outcome for %s: %w", name, err)
	}
	return runErr
}

// KindFor maps a file extension to an intake kind.
func KindFor(path string) (extraction.Kind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return extraction.KindDocument, true
	case ".jpg", ".jpeg", ".png":
		return extraction.KindImage, true
	case ".webm", ".wav", ".mp3", ".ogg":
		return extraction.KindVoice, true
	default:
		return "", false
	}
}

// Content renders file bytes as intake content: plain text for documents,
// a base64 data URI otherwise.
func Content(path string, kind extraction.Kind, data []byte) (string, error) {
	if kind == extraction.KindDocument {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("%s is empty", filepath.Base(path))
		}
		return text, nil
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%s is empty", filepath.Base(path))
	}
	return "data:" + mimeFor(path) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	default:
		return "audio/webm"
	}
}
