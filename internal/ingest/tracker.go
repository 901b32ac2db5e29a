// Package ingest drives the document ingestion pipeline: upload tracking,
// extraction, chunking and index mutation, plus full-index rebuilds. A
// single process-wide mutex serializes every index mutation, shared between
// the per-file pipeline and the rebuilder.
package ingest

import (
	"sync"
	"time"
)

// Status is the lifecycle state of one uploaded document.
type Status string

const (
	// StatusPending marks a document accepted for ingestion but not started.
	StatusPending Status = "pending"
	// StatusProcessing marks a document currently being ingested.
	StatusProcessing Status = "processing"
	// StatusCompleted marks a document fully indexed.
	StatusCompleted Status = "completed"
	// StatusFailed marks a document whose ingestion failed. The Record
	// carries the error message.
	StatusFailed Status = "failed"
)

// Record is the tracked state of one uploaded document.
type Record struct {
	// Filename is the uploaded file's base name, the tracker key.
	Filename string `json:"filename"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Error holds the failure message when Status is failed.
	Error string `json:"error,omitempty"`
	// Pages is the number of pages extracted, set on completion.
	Pages int `json:"pages,omitempty"`
	// Chunks is the number of chunks produced, set on completion.
	Chunks int `json:"chunks,omitempty"`
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds per-document ingestion state. All methods are safe for
// concurrent use. State is in-memory only and resets on restart; the
// uploaded files themselves are the durable record.
type Tracker struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]Record)}
}

// SetPending records a newly accepted document.
func (t *Tracker) SetPending(filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[filename] = Record{
		Filename:  filename,
		Status:    StatusPending,
		UpdatedAt: time.Now(),
	}
}

// StartProcessing transitions the document to processing and reports whether
// the caller won the transition. A document already processing returns
// false, which makes concurrent ingestion of the same file an idempotent
// no-op for the loser.
func (t *Tracker) StartProcessing(filename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.records[filename]; ok && r.Status == StatusProcessing {
		return false
	}
	t.records[filename] = Record{
		Filename:  filename,
		Status:    StatusProcessing,
		UpdatedAt: time.Now(),
	}
	return true
}

// Complete marks the document successfully indexed with its page and chunk
// counts.
func (t *Tracker) Complete(filename string, pages, chunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[filename] = Record{
		Filename:  filename,
		Status:    StatusCompleted,
		Pages:     pages,
		Chunks:    chunks,
		UpdatedAt: time.Now(),
	}
}

// Fail marks the document failed with the error message.
func (t *Tracker) Fail(filename, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[filename] = Record{
		Filename:  filename,
		Status:    StatusFailed,
		Error:     msg,
		UpdatedAt: time.Now(),
	}
}

// Get returns the record for filename, and whether one exists.
func (t *Tracker) Get(filename string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[filename]
	return r, ok
}

// Delete removes the record for filename. Deleting an unknown filename is a
// no-op.
func (t *Tracker) Delete(filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, filename)
}

// Clear removes every record.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]Record)
}

// Snapshot returns a copy of every record. The copy is safe to read without
// holding any lock.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}
