package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketHistory = []byte("history")
	bucketOrder   = []byte("history_order")
)

// RunSummary is the coordinator's view of one run, derived from the events
// a node has reported.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Node      string    `json:"node"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Stats is the coordinator's aggregate counters.
type Stats struct {
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	ActiveCount int   `json:"active_count"`
}

// Coordinator aggregates runs reported by every node in the mesh. Active
// runs live in memory; completed runs are pushed onto a bbolt-backed ring
// of bounded size so the history survives a coordinator restart.
type Coordinator struct {
	db          *bbolt.DB
	historySize int

	mu       sync.Mutex
	active   map[string]*RunSummary
	lastSeen map[string]time.Time
	stats    Stats
}

// NewCoordinator opens (creating if absent) a bbolt database at dbPath to
// back the history ring. historySize <= 0 defaults to 1000 per spec.
func NewCoordinator(dbPath string, historySize int) (*Coordinator, error) {
	if historySize <= 0 {
		historySize = 1000
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("events: opening coordinator store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketHistory); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketOrder)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("events: initializing coordinator buckets: %w", err)
	}
	return &Coordinator{
		db:          db,
		historySize: historySize,
		active:      make(map[string]*RunSummary),
		lastSeen:    make(map[string]time.Time),
	}, nil
}

func (c *Coordinator) Close() error { return c.db.Close() }

// Observe folds one reported event into the coordinator's aggregate state.
func (c *Coordinator) Observe(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeen[ev.Node] = ev.Timestamp

	switch ev.Kind {
	case "run_started":
		c.active[ev.RunID] = &RunSummary{
			RunID: ev.RunID, Node: ev.Node, Status: "running", StartedAt: ev.Timestamp,
		}
		return nil
	case "run_completed", "run_failed":
		summary, ok := c.active[ev.RunID]
		if !ok {
			summary = &RunSummary{RunID: ev.RunID, Node: ev.Node, StartedAt: ev.Timestamp}
		}
		delete(c.active, ev.RunID)
		summary.EndedAt = ev.Timestamp
		if ev.Kind == "run_completed" {
			summary.Status = "completed"
			c.stats.Completed++
		} else {
			summary.Status = "failed"
			c.stats.Failed++
		}
		return c.pushHistory(summary)
	}
	return nil
}

// pushHistory appends summary to the bounded ring, evicting the oldest
// entry once historySize is exceeded.
func (c *Coordinator) pushHistory(summary *RunSummary) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		history := tx.Bucket(bucketHistory)
		order := tx.Bucket(bucketOrder)

		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		if err := history.Put([]byte(summary.RunID), data); err != nil {
			return err
		}

		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		key := sequenceKey(seq)
		if err := order.Put(key, []byte(summary.RunID)); err != nil {
			return err
		}

		count := order.Stats().KeyN
		if count <= c.historySize {
			return nil
		}
		cur := order.Cursor()
		for k, v := cur.First(); k != nil && count > c.historySize; k, v = cur.Next() {
			if err := history.Delete(v); err != nil {
				return err
			}
			if err := order.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

func sequenceKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// ActiveRuns lists runs currently in progress.
func (c *Coordinator) ActiveRuns() []RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RunSummary, 0, len(c.active))
	for _, s := range c.active {
		out = append(out, *s)
	}
	return out
}

// History returns up to limit history entries, optionally filtered by
// node and/or status. limit <= 0 means unbounded.
func (c *Coordinator) History(node, status string, limit int) ([]RunSummary, error) {
	var out []RunSummary
	err := c.db.View(func(tx *bbolt.Tx) error {
		order := tx.Bucket(bucketOrder)
		history := tx.Bucket(bucketHistory)
		cur := order.Cursor()
		for k, runID := cur.Last(); k != nil; k, runID = cur.Prev() {
			raw := history.Get(runID)
			if raw == nil {
				continue
			}
			var summary RunSummary
			if err := json.Unmarshal(raw, &summary); err != nil {
				return err
			}
			if node != "" && summary.Node != node {
				continue
			}
			if status != "" && summary.Status != status {
				continue
			}
			out = append(out, summary)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// ByID fetches a single run summary from the history ring.
func (c *Coordinator) ByID(runID string) (RunSummary, bool, error) {
	var summary RunSummary
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketHistory).Get([]byte(runID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &summary)
	})
	return summary, found, err
}

// ConnectedNodes lists nodes that have reported within the window since
// the provided cutoff.
func (c *Coordinator) ConnectedNodes(since time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var nodes []string
	for node, t := range c.lastSeen {
		if t.After(since) {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// Stats returns the current aggregate counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.ActiveCount = len(c.active)
	return s
}
