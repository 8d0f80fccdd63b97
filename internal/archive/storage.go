// Package archive keeps the logs of ended campaign runs in BoltDB.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/pacer/internal/campaign"
)

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("run_index")
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// Run is an archived campaign run
type Run struct {
	ID        string           `json:"id"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Status    campaign.Status  `json:"status"`
	Position  int              `json:"position"`
	Total     int              `json:"total"`
	Config    campaign.Config  `json:"config"`
	Entries   []campaign.Entry `json:"entries,omitempty"`
}

// Counts tallies the run's entries by tag
func (r *Run) Counts() map[campaign.Tag]int {
	counts := make(map[campaign.Tag]int)
	for _, e := range r.Entries {
		counts[e.Tag]++
	}
	return counts
}

// FromSummary converts a controller run summary
func FromSummary(s campaign.RunSummary) *Run {
	return &Run{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Status:    s.Status,
		Position:  s.Position,
		Total:     s.Total,
		Config:    s.Config,
		Entries:   s.Entries,
	}
}

// ListFilter contains filters for listing runs
type ListFilter struct {
	Status campaign.Status
	Limit  int
	Offset int
}

// Storage stores archived runs
type Storage struct {
	db      *bolt.DB
	maxRuns int
}

// Open opens (creating if needed) the archive database at path. maxRuns > 0
// prunes the oldest runs beyond that count on every save.
func Open(path string, maxRuns int) (*Storage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := NewStorage(db, maxRuns)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStorage creates archive storage on an already open BoltDB instance
func NewStorage(db *bolt.DB, maxRuns int) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Storage{db: db, maxRuns: maxRuns}, nil
}

// Save stores a run, replacing any run with the same ID
func (s *Storage) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketIndex)

		if old := index.Get([]byte(run.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}

		key := makeIndexKey(run.EndedAt, run.ID)
		if err := runs.Put(key, data); err != nil {
			return fmt.Errorf("failed to store run: %w", err)
		}
		if err := index.Put([]byte(run.ID), key); err != nil {
			return fmt.Errorf("failed to index run: %w", err)
		}

		return s.pruneTx(tx)
	})
}

// pruneTx removes the oldest runs beyond maxRuns
func (s *Storage) pruneTx(tx *bolt.Tx) error {
	if s.maxRuns <= 0 {
		return nil
	}

	runs := tx.Bucket(bucketRuns)
	index := tx.Bucket(bucketIndex)

	excess := countKeys(runs) - s.maxRuns
	if excess <= 0 {
		return nil
	}

	var victims [][]byte
	c := runs.Cursor()
	for k, _ := c.First(); k != nil && len(victims) < excess; k, _ = c.Next() {
		victims = append(victims, append([]byte(nil), k...))
	}

	for _, k := range victims {
		if err := runs.Delete(k); err != nil {
			return err
		}
		if err := index.Delete([]byte(idFromKey(k))); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a run by ID
func (s *Storage) Get(ctx context.Context, id string) (*Run, error) {
	var run *Run

	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketIndex).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}

		data := tx.Bucket(bucketRuns).Get(key)
		if data == nil {
			return ErrNotFound
		}

		var r Run
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("failed to unmarshal run: %w", err)
		}
		run = &r
		return nil
	})

	return run, err
}

// List returns runs matching the filter, newest first. Entries are omitted;
// use Get for the full log.
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Run, error) {
	var result []*Run

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}

			if filter.Status != "" && r.Status != filter.Status {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			r.Entries = nil
			result = append(result, &r)

			if filter.Limit > 0 && len(result) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return result, err
}

// Delete removes a run by ID
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketIndex)
		key := index.Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}

		if err := tx.Bucket(bucketRuns).Delete(key); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
}

// Count returns the number of archived runs
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = countKeys(tx.Bucket(bucketRuns))
		return nil
	})
	return n, err
}

// DB returns the underlying BoltDB instance so other components can keep
// their buckets in the same file
func (s *Storage) DB() *bolt.DB {
	return s.db
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// makeIndexKey creates a time-ordered key for a run
func makeIndexKey(t time.Time, id string) []byte {
	// Format: timestamp (fixed-width UTC) + "|" + id
	return []byte(t.UTC().Format("2006-01-02T15:04:05.000000000Z") + "|" + id)
}

// idFromKey extracts the run ID from an index key
func idFromKey(key []byte) string {
	_, id, _ := strings.Cut(string(key), "|")
	return id
}

func countKeys(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}
