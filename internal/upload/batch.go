// Package upload runs batches of concurrent file uploads into one folder.
package upload

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/events"
	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
)

var (
	// ErrBusy is returned when a batch is changed or closed while uploads are in flight.
	ErrBusy = errors.New("uploads in progress")
	// ErrClosed is returned when a closed batch is used.
	ErrClosed = errors.New("upload batch closed")
	// ErrNotFound is returned for an unknown batch id.
	ErrNotFound = errors.New("upload batch not found")
)

// Status is a task's position in pending -> uploading -> success | error.
type Status string

const (
	Pending   Status = "pending"
	Uploading Status = "uploading"
	Success   Status = "success"
	Failed    Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Success || s == Failed
}

// Task is one file in a batch. Tasks are values; a status change produces
// a new task collection.
type Task struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
	ItemID      string `json:"itemId,omitempty"`

	file File
}

// Summary counts tasks by status.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Done reports whether the batch is non-empty and every task is terminal.
func (s Summary) Done() bool {
	return s.Total > 0 && s.Succeeded+s.Failed == s.Total
}

func summarize(tasks []Task) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case Pending:
			s.Pending++
		case Uploading:
			s.Uploading++
		case Success:
			s.Succeeded++
		case Failed:
			s.Failed++
		}
	}
	return s
}

// EventKind distinguishes batch stream events.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
)

// Event is published on every task change and once when an upload run settles.
type Event struct {
	Kind    EventKind `json:"kind"`
	BatchID string    `json:"batchId"`
	Tasks   []Task    `json:"tasks"`
	Summary Summary   `json:"summary"`
}

// Uploader stores one file. Implemented by *graph.Client.
type Uploader interface {
	UploadFile(ctx context.Context, driveID, parentID, name, contentType string, content io.Reader, size int64) (*graph.Item, error)
}

// CompleteFunc is called after every task of an upload run has settled.
type CompleteFunc func(ctx context.Context, b *Batch, s Summary)

// Batch is a set of files bound for one folder.
type Batch struct {
	ID       string
	DriveID  string
	FolderID string

	orch       *Orchestrator
	onComplete CompleteFunc
	tasks      atomic.Pointer[[]Task]
	changes    *events.Broadcaster[Event]

	// lifecycle only; the task collection is never guarded by it
	mu       sync.Mutex
	inflight int
	closed   bool
}

// Add queues files as pending tasks with fresh ids. It is refused with
// ErrBusy while an upload run is in flight, since that run has already
// claimed its tasks and would leave the new ones pending.
func (b *Batch) Add(files ...File) ([]Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.inflight > 0 {
		return nil, ErrBusy
	}

	added := make([]Task, 0, len(files))
	for _, f := range files {
		added = append(added, Task{
			ID:          b.orch.nextID.Add(1),
			Name:        f.Name(),
			ContentType: f.ContentType(),
			Size:        f.Size(),
			Status:      Pending,
			file:        f,
		})
	}
	b.replace(func(cur []Task) []Task {
		next := make([]Task, 0, len(cur)+len(added))
		next = append(next, cur...)
		return append(next, added...)
	})
	return added, nil
}

// Tasks returns a copy of the current task collection.
func (b *Batch) Tasks() []Task {
	cur := *b.tasks.Load()
	out := make([]Task, len(cur))
	copy(out, cur)
	return out
}

// Summary counts the current tasks.
func (b *Batch) Summary() Summary {
	return summarize(*b.tasks.Load())
}

// Done reports whether every task has reached a terminal state.
func (b *Batch) Done() bool {
	return b.Summary().Done()
}

// Busy reports whether an upload run is in flight.
func (b *Batch) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inflight > 0
}

// replace swaps in fn's result for the current collection. fn must not
// modify its argument and may run more than once.
func (b *Batch) replace(fn func([]Task) []Task) []Task {
	for {
		old := b.tasks.Load()
		next := fn(*old)
		if b.tasks.CompareAndSwap(old, &next) {
			b.changes.Publish(Event{Kind: EventProgress, BatchID: b.ID, Tasks: clone(next), Summary: summarize(next)})
			return next
		}
	}
}

// setStatus replaces the task with the given id. Only the matching id changes.
func (b *Batch) setStatus(id int64, status Status, errMsg, itemID string) {
	b.replace(func(cur []Task) []Task {
		next := make([]Task, len(cur))
		for i, t := range cur {
			if t.ID == id {
				t.Status = status
				t.Error = errMsg
				if itemID != "" {
					t.ItemID = itemID
				}
			}
			next[i] = t
		}
		return next
	})
}

// Upload launches one concurrent upload per pending task and waits for all
// of them. Tasks already uploading or terminal are left alone, so calling
// Upload again resubmits only what is still pending. A failed file never
// affects its siblings. The completion callback runs once per call that
// launched at least one task.
func (b *Batch) Upload(ctx context.Context) (Summary, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Summary{}, ErrClosed
	}
	b.inflight++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}()

	var claimed []Task
	b.replace(func(cur []Task) []Task {
		claimed = claimed[:0]
		next := make([]Task, len(cur))
		for i, t := range cur {
			if t.Status == Pending {
				t.Status = Uploading
				claimed = append(claimed, t)
			}
			next[i] = t
		}
		return next
	})
	if len(claimed) == 0 {
		return b.Summary(), nil
	}

	log := logging.WithContext(ctx).With(zap.String("batch_id", b.ID))
	log.Info("upload started", zap.Int("files", len(claimed)))
	start := time.Now()

	var wg sync.WaitGroup
	for _, t := range claimed {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			b.run(ctx, log, t)
		}(t)
	}
	wg.Wait()

	s := b.Summary()
	metrics.RecordUploadBatch(time.Since(start))
	log.Info("upload settled",
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Duration("duration", time.Since(start)))

	if b.onComplete != nil {
		b.onComplete(ctx, b, s)
	}
	b.changes.Publish(Event{Kind: EventComplete, BatchID: b.ID, Tasks: b.Tasks(), Summary: s})
	return s, nil
}

func (b *Batch) run(ctx context.Context, log *zap.Logger, t Task) {
	item, err := b.uploadOne(ctx, t)
	if err != nil {
		log.Warn("file upload failed", zap.Int64("task_id", t.ID), zap.String("name", t.Name), zap.Error(err))
		metrics.RecordUploadTask(0, false)
		b.setStatus(t.ID, Failed, err.Error(), "")
		return
	}
	log.Debug("file uploaded", zap.Int64("task_id", t.ID), zap.String("name", item.Name))
	metrics.RecordUploadTask(t.Size, true)
	b.setStatus(t.ID, Success, "", item.ID)
}

func (b *Batch) uploadOne(ctx context.Context, t Task) (*graph.Item, error) {
	rc, err := t.file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return b.orch.up.UploadFile(ctx, b.DriveID, b.FolderID, t.Name, t.ContentType, rc, t.Size)
}

// Subscribe returns a channel of batch events.
func (b *Batch) Subscribe() chan Event {
	return b.changes.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (b *Batch) Unsubscribe(ch chan Event) {
	b.changes.Unsubscribe(ch)
}

// Close discards the batch. It is refused with ErrBusy while an upload run
// is in flight.
func (b *Batch) Close() error {
	b.mu.Lock()
	if b.inflight > 0 {
		b.mu.Unlock()
		return ErrBusy
	}
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.changes.Close()
	b.orch.forget(b.ID)
	return nil
}

func clone(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// Orchestrator creates batches and hands out task ids. Ids increase
// monotonically across all batches.
type Orchestrator struct {
	up     Uploader
	nextID atomic.Int64

	mu      sync.RWMutex
	batches map[string]*Batch
}

// NewOrchestrator creates an orchestrator that stores files through up.
func NewOrchestrator(up Uploader) *Orchestrator {
	return &Orchestrator{up: up, batches: make(map[string]*Batch)}
}

// NewBatch creates an empty batch for folderID ("" or "root" is the
// container root). onComplete may be nil.
func (o *Orchestrator) NewBatch(driveID, folderID string, onComplete CompleteFunc) (*Batch, error) {
	if err := graph.Required("drive", driveID); err != nil {
		return nil, err
	}
	if folderID == "" {
		folderID = graph.RootItemID
	}
	b := &Batch{
		ID:         uuid.NewString(),
		DriveID:    driveID,
		FolderID:   folderID,
		orch:       o,
		onComplete: onComplete,
		changes:    events.NewBroadcaster[Event]("upload"),
	}
	empty := []Task{}
	b.tasks.Store(&empty)

	o.mu.Lock()
	o.batches[b.ID] = b
	o.mu.Unlock()
	return b, nil
}

// Get looks up an open batch.
func (o *Orchestrator) Get(id string) (*Batch, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Len returns the number of open batches.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.batches)
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.batches, id)
	o.mu.Unlock()
}
