package campaign

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tag classifies a log entry
type Tag string

const (
	TagSuccess Tag = "SUCCESS"
	TagError   Tag = "ERROR" // reserved, never produced by the controller
	TagInfo    Tag = "INFO"
	TagSkipped Tag = "SKIPPED"
)

// Outcome is the per-recipient result carried in an entry payload
type Outcome string

const (
	OutcomeSent    Outcome = "SENT"
	OutcomeSkipped Outcome = "SKIPPED"
)

// DeliveryStatus is the operator-maintained delivery state of a sent message
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "Pending"
	DeliveryDelivered DeliveryStatus = "Delivered"
	DeliveryRead      DeliveryStatus = "Read"
	DeliveryFailed    DeliveryStatus = "Failed"
)

// ParseDeliveryStatus maps a string (case-insensitive) to a DeliveryStatus
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	for _, ds := range []DeliveryStatus{DeliveryPending, DeliveryDelivered, DeliveryRead, DeliveryFailed} {
		if strings.EqualFold(string(ds), s) {
			return ds, nil
		}
	}
	return "", fmt.Errorf("unknown delivery status %q (must be Pending, Delivered, Read or Failed)", s)
}

// Details is the structured payload of an entry
type Details struct {
	Recipient      string          `json:"recipient"`
	Outcome        Outcome         `json:"outcome,omitempty"`
	Body           string          `json:"body,omitempty"`
	Attachment     string          `json:"attachment,omitempty"`
	DeliveryStatus *DeliveryStatus `json:"delivery_status,omitempty"`
}

// Entry is one record in the campaign log. Everything except
// Details.DeliveryStatus is immutable once appended.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Tag       Tag       `json:"tag"`
	Details   *Details  `json:"details,omitempty"`
}

func (e Entry) clone() Entry {
	if e.Details == nil {
		return e
	}
	d := *e.Details
	if d.DeliveryStatus != nil {
		ds := *d.DeliveryStatus
		d.DeliveryStatus = &ds
	}
	e.Details = &d
	return e
}

// Recorder is an append-only, newest-first campaign log
type Recorder struct {
	mu sync.RWMutex
	// entries is kept oldest-first so appends are amortized O(1); the public
	// view and indexes are newest-first.
	entries []Entry
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append places e at the head of the log
func (r *Recorder) Append(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.entries = append(r.entries, e.clone())
	r.mu.Unlock()
}

// UpdateDeliveryStatus overwrites the delivery status of the entry at index
// (newest-first). Entries without a payload are left alone; any payload,
// including a skipped or monitor entry, gets the status set.
// It reports whether an entry was changed.
func (r *Recorder) UpdateDeliveryStatus(index int, status DeliveryStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.entries) {
		return false
	}

	e := &r.entries[len(r.entries)-1-index]
	if e.Details == nil {
		return false
	}

	ds := status
	e.Details.DeliveryStatus = &ds
	return true
}

// Get returns a copy of the entry at index (newest-first)
func (r *Recorder) Get(index int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.entries) {
		return Entry{}, false
	}
	return r.entries[len(r.entries)-1-index].clone(), true
}

// Clear empties the log
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// Len returns the number of entries
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a newest-first snapshot of the log
func (r *Recorder) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	for i := range r.entries {
		out[i] = r.entries[len(r.entries)-1-i].clone()
	}
	return out
}
