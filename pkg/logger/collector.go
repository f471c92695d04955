package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Publisher ships aggregated log batches to an external sink.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls how error events are aggregated before they are
// handed to the Publisher.
type CollectionConfig struct {
	TimeInterval   time.Duration // flush cadence
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
}

type entry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// collector deduplicates identical events under a hash of level, message,
// fields and callsite, then publishes the batch on a timer or when the
// distinct-entry threshold is reached.
type collector struct {
	cfg    *CollectionConfig
	mu     sync.Mutex
	seen   map[string]*entry
	cancel context.CancelFunc
	done   chan struct{}
}

func newCollector(cfg *CollectionConfig) *collector {
	interval := cfg.TimeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{
		cfg:    cfg,
		seen:   make(map[string]*entry),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx, interval)
	return c
}

func (c *collector) add(level, msg string, fields []Field, caller string) {
	fm := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		fm[f.key] = f.val
	}
	key := dedupKey(level, msg, fm, caller)
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.seen[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.seen[key] = &entry{
			Level:     level,
			Message:   msg,
			Fields:    fm,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	var batch []entry
	if c.cfg.CountThreshold > 0 && len(c.seen) >= c.cfg.CountThreshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	c.publish(batch)
}

// drainLocked empties the dedup map. Caller holds mu.
func (c *collector) drainLocked() []entry {
	if len(c.seen) == 0 {
		return nil
	}
	batch := make([]entry, 0, len(c.seen))
	for _, e := range c.seen {
		batch = append(batch, *e)
	}
	c.seen = make(map[string]*entry)
	return batch
}

func (c *collector) publish(batch []entry) {
	if len(batch) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
			// Cannot log through the facade from here.
			fmt.Fprintf(os.Stderr, "log collector publish failed: %v\n", err)
		}
	}()
}

func (c *collector) run(ctx context.Context, interval time.Duration) {
	defer close(c.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			batch := c.drainLocked()
			c.mu.Unlock()
			c.publish(batch)
		case <-ctx.Done():
			c.mu.Lock()
			batch := c.drainLocked()
			c.mu.Unlock()
			c.publish(batch)
			return
		}
	}
}

func (c *collector) close() {
	c.cancel()
	<-c.done
}

func dedupKey(level, msg string, fields map[string]interface{}, caller string) string {
	payload, _ := json.Marshal(struct {
		Level   string                 `json:"l"`
		Message string                 `json:"m"`
		Fields  map[string]interface{} `json:"f"`
		Caller  string                 `json:"c"`
	}{level, msg, fields, caller})
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum[:8])
}
