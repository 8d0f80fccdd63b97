package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/pacer/internal/campaign"
)

var bucketMetrics = []byte("metrics")

// ShadowCounters stores counter values for persistence
type ShadowCounters struct {
	LogEntries  map[string]float64 `json:"log_entries"`
	Transitions map[string]float64 `json:"transitions"`
	Runs        map[string]float64 `json:"runs"`
	APIRequests map[string]float64 `json:"api_requests"`
	APIErrors   map[string]float64 `json:"api_errors"`
}

// Collector feeds campaign activity into the metrics, keeps the system
// gauges fresh and, when given a database, persists counters across
// restarts. It implements campaign.Observer.
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	shadow   ShadowCounters
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector. db may be nil, in which
// case counters start from zero on every restart.
func NewCollector(db *bolt.DB, m *Metrics, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	if db != nil {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketMetrics)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow: ShadowCounters{
			LogEntries:  make(map[string]float64),
			Transitions: make(map[string]float64),
			Runs:        make(map[string]float64),
			APIRequests: make(map[string]float64),
			APIErrors:   make(map[string]float64),
		},
		stopCh: make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Metrics returns the metrics the collector writes to
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collectSystemMetrics()

	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters loads persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	if c.db == nil {
		return nil
	}

	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("counters"))
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		for k, v := range shadow.LogEntries {
			c.shadow.LogEntries[k] = v
			c.metrics.LogEntriesTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.Transitions {
			c.shadow.Transitions[k] = v
			c.metrics.TransitionsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.Runs {
			c.shadow.Runs[k] = v
			c.metrics.RunsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.APIRequests {
			method, path, status := splitTripleLabelKey(k)
			c.shadow.APIRequests[k] = v
			c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Add(v)
		}
		for k, v := range shadow.APIErrors {
			c.shadow.APIErrors[k] = v
			c.metrics.APIErrorsTotal.WithLabelValues(k).Add(v)
		}

		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	if c.db == nil {
		return nil
	}

	c.mu.Lock()
	data, err := json.Marshal(c.shadow)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put([]byte("counters"), data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics()
		}
	}
}

func (c *Collector) collectSystemMetrics() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}
}

// OnTransition implements campaign.Observer
func (c *Collector) OnTransition(from, to campaign.State, p campaign.Progress) {
	c.mu.Lock()
	c.shadow.Transitions[to.String()]++
	c.mu.Unlock()
	c.metrics.TransitionsTotal.WithLabelValues(to.String()).Inc()
	c.metrics.SetProgress(p)
}

// OnEntry implements campaign.Observer
func (c *Collector) OnEntry(e campaign.Entry) {
	tag := string(e.Tag)
	c.mu.Lock()
	c.shadow.LogEntries[tag]++
	c.mu.Unlock()
	c.metrics.LogEntriesTotal.WithLabelValues(tag).Inc()
}

// OnRunEnd implements campaign.Observer
func (c *Collector) OnRunEnd(run campaign.RunSummary) {
	result := string(run.Status)
	c.mu.Lock()
	c.shadow.Runs[result]++
	c.mu.Unlock()
	c.metrics.RunsTotal.WithLabelValues(result).Inc()
	c.metrics.CampaignPosition.Set(float64(run.Position))
}

// TrackAPIRequest tracks an API request and updates shadow counter
func (c *Collector) TrackAPIRequest(method, path, status string) {
	key := makeTripleLabelKey(method, path, status)
	c.mu.Lock()
	c.shadow.APIRequests[key]++
	c.mu.Unlock()
	c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackAPIError tracks an API error and updates shadow counter
func (c *Collector) TrackAPIError(errorType string) {
	c.mu.Lock()
	c.shadow.APIErrors[errorType]++
	c.mu.Unlock()
	c.metrics.APIErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveAPIRequest records one served request: its count, latency and,
// for 4xx/5xx codes, its error kind.
func (c *Collector) ObserveAPIRequest(method, route string, code int, took time.Duration) {
	c.TrackAPIRequest(method, route, strconv.Itoa(code))
	c.metrics.APIRequestDurationSeconds.WithLabelValues(method, route).Observe(took.Seconds())
	if kind, ok := errorKind(code); ok {
		c.TrackAPIError(kind)
	}
}

func makeTripleLabelKey(a, b, c string) string {
	return a + "|" + b + "|" + c
}

// splitTripleLabelKey splits on the first and last separator so the
// middle label may itself contain "|"
func splitTripleLabelKey(key string) (string, string, string) {
	first, rest, ok := strings.Cut(key, "|")
	if !ok {
		return key, "", ""
	}
	i := strings.LastIndex(rest, "|")
	if i < 0 {
		return first, rest, ""
	}
	return first, rest[:i], rest[i+1:]
}
