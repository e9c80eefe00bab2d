package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"
)

// Refresher runs the session's fixed-interval background fetches. Every
// job carries an activity gate checked before each tick, so a refresher
// whose owning view is closed costs nothing but the tick itself.
type Refresher struct {
	mu      sync.Mutex
	cron    *robcron.Cron
	entries map[string]robcron.EntryID
	started bool
}

// NewRefresher returns an empty, stopped refresher.
func NewRefresher() *Refresher {
	return &Refresher{
		cron:    robcron.New(),
		entries: make(map[string]robcron.EntryID),
	}
}

// Add schedules fn every interval. The active gate may be nil, meaning
// always run. Duplicate names are a wiring bug.
func (r *Refresher) Add(name string, interval time.Duration, active func() bool, fn func()) error {
	if name == "" {
		return fmt.Errorf("refresher name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("refresher %q: interval must be positive", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("refresher %q already exists", name)
	}

	id, err := r.cron.AddFunc("@every "+interval.String(), func() {
		if active != nil && !active() {
			return
		}
		fn()
	})
	if err != nil {
		return fmt.Errorf("refresher %q: %w", name, err)
	}
	r.entries[name] = id
	return nil
}

// Remove drops a scheduled refresher by name.
func (r *Refresher) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[name]
	if !ok {
		log.Printf("session: refresher %q not found", name)
		return
	}
	r.cron.Remove(id)
	delete(r.entries, name)
}

// Start begins ticking. Non-blocking.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		r.cron.Start()
		r.started = true
	}
}

// Stop halts ticking; running jobs finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.cron.Stop()
		r.started = false
	}
}
