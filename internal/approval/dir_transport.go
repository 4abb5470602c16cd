package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"indiistudio/internal/logging"
)

// Filename suffixes used by DirTransport.
const (
	RequestSuffix  = ".request.json"
	DecisionSuffix = ".decision"
)

// DirTransport exchanges approvals through a directory. Each pending request
// is written as <id>.request.json; a human (or UI) answers by creating
// <id>.decision containing approve, deny or cancel.
type DirTransport struct {
	dir     string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	resolver Resolver
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDirTransport creates the directory and a watcher for it.
func NewDirTransport(dir string) (*DirTransport, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create approval dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &DirTransport{
		dir:     dir,
		watcher: watcher,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (t *DirTransport) Dir() string { return t.dir }

// Start begins watching for decision files. It is non-blocking.
func (t *DirTransport) Start(ctx context.Context, r Resolver) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.resolver = r
	t.mu.Unlock()

	go t.run(ctx)
	logging.Approval("Watching %s for approval decisions", t.dir)
}

// Stop stops the watcher and waits for it to exit.
func (t *DirTransport) Stop() {
	t.mu.Lock()
	running := t.running
	t.running = false
	t.mu.Unlock()

	if running {
		close(t.stopCh)
		<-t.doneCh
	}
	if err := t.watcher.Close(); err != nil {
		logging.Get(logging.CategoryApproval).Error("DirTransport: error closing watcher: %v", err)
	}
}

// Emit implements Transport by writing the request file. The file is removed
// once the request is resolved.
func (t *DirTransport) Emit(ctx context.Context, req Request, r Resolver) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(t.dir, req.ID+RequestSuffix)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		os.Remove(path)
		os.Remove(filepath.Join(t.dir, req.ID+DecisionSuffix))
	}()
	return nil
}

// WriteDecision records a decision file for id, as a UI would.
func WriteDecision(dir, id string, d Decision) error {
	path := filepath.Join(dir, id+DecisionSuffix)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(d.String()+"\n"), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ListRequests reads the pending request files in dir.
func ListRequests(dir string) ([]Request, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), RequestSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (t *DirTransport) run(ctx context.Context) {
	defer close(t.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryApproval).Error("DirTransport watcher error: %v", err)
		}
	}
}

func (t *DirTransport) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, DecisionSuffix) {
		return
	}
	id := strings.TrimSuffix(name, DecisionSuffix)

	data, err := os.ReadFile(event.Name)
	if err != nil {
		// Rename events also fire for the vanished source path.
		return
	}
	d, err := ParseDecision(strings.ToLower(strings.TrimSpace(string(data))))
	if err != nil {
		logging.Get(logging.CategoryApproval).Warn("Ignoring decision file %s: %v", name, err)
		return
	}

	t.mu.Lock()
	r := t.resolver
	t.mu.Unlock()
	if r != nil && r.Resolve(id, d) {
		logging.Approval("Decision file resolved %s: %s", id, d)
	}
}
