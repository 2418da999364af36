// Package valkey mirrors the latest process image into a
// Valkey/Redis server and appends alarm transitions to a journal
// list, giving site tooling a low-latency read path that never
// touches the scan thread.
package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"lactlink/config"
	"lactlink/logging"
)

// journalMax bounds the alarm journal list length.
const journalMax = 10000

// joinKey joins key segments with colons, dropping empty parts.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// TagRecord is the JSON value stored per tag key.
type TagRecord struct {
	Unit      string      `json:"unit"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Quality   string      `json:"quality"`
	Timestamp time.Time   `json:"timestamp"`
}

// JournalEntry is one line of the alarm journal.
type JournalEntry struct {
	Unit      string    `json:"unit"`
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	Event     string    `json:"event"` // raised, cleared, acked
	Value     float64   `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher owns the Valkey connection.
type Publisher struct {
	cfg       config.ValkeyConfig
	namespace string
	unit      string

	client  *redis.Client
	running bool
	mu      sync.RWMutex
}

// NewPublisher creates a Valkey publisher for the unit.
func NewPublisher(cfg config.ValkeyConfig, namespace, unit string) *Publisher {
	return &Publisher{cfg: cfg, namespace: namespace, unit: unit}
}

// Start connects and pings the server.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	opts := &redis.Options{
		Addr:         p.cfg.Address,
		Password:     p.cfg.Password,
		DB:           p.cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.cfg.KeyTTL == 0 {
		// Stale keys should age out if the unit goes dark.
		p.cfg.KeyTTL = time.Hour
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("valkey connect %s: %w", p.cfg.Address, err)
	}
	logging.DebugLog("valkey", "connected to %s (db %d)", p.cfg.Address, p.cfg.Database)

	p.client = client
	p.running = true
	return nil
}

// Stop closes the connection.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.client.Close()
	p.client = nil
	p.running = false
}

// IsRunning reports whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Publisher) conn() *redis.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil
	}
	return p.client
}

// SetTag mirrors one tag's latest value under
// {namespace}:{unit}:tag:{name}.
func (p *Publisher) SetTag(rec TagRecord) {
	client := p.conn()
	if client == nil {
		return
	}
	rec.Unit = p.unit
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := joinKey(p.namespace, p.unit, "tag", rec.Tag)
	if err := client.Set(ctx, key, data, p.cfg.KeyTTL).Err(); err != nil {
		logging.DebugLog("valkey", "SET %s: %v", key, err)
	}
}

// AppendJournal pushes an alarm transition onto the journal list and
// trims it to journalMax entries.
func (p *Publisher) AppendJournal(entry JournalEntry) {
	client := p.conn()
	if client == nil {
		return
	}
	entry.Unit = p.unit
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := joinKey(p.namespace, p.unit, "alarm-journal")
	pipe := client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, journalMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.DebugLog("valkey", "journal push: %v", err)
	}
}
