package pipeline

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Deduplicator remembers packet ids so that the same packet relayed by
// several gateways is only processed once.
//
// A zero window and zero capacity keep every id for the life of the process.
// A positive window forgets ids that long after they were first seen, and a
// positive capacity evicts the oldest ids once full. Forgetting an id can
// only lead to a packet being processed again, never to a false duplicate.
type Deduplicator struct {
	cache   *ttlcache.Cache[uint32, struct{}]
	window  time.Duration
	started bool
	mu      sync.Mutex
}

func NewDeduplicator(window time.Duration, capacity uint64) *Deduplicator {
	opts := []ttlcache.Option[uint32, struct{}]{
		ttlcache.WithDisableTouchOnHit[uint32, struct{}](),
	}
	if window > 0 {
		opts = append(opts, ttlcache.WithTTL[uint32, struct{}](window))
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[uint32, struct{}](capacity))
	}

	return &Deduplicator{
		cache:  ttlcache.New(opts...),
		window: window,
	}
}

// Start launches the expiry loop. It is a no-op without a window.
func (d *Deduplicator) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window <= 0 || d.started {
		return
	}
	d.started = true
	go d.cache.Start()
}

func (d *Deduplicator) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.started = false
	d.cache.Stop()
}

// SeenAndRecord reports whether packetID was already recorded, recording it
// if not. The check and insert are a single atomic step.
func (d *Deduplicator) SeenAndRecord(packetID uint32) bool {
	_, found := d.cache.GetOrSet(packetID, struct{}{})
	return found
}

// Len returns the number of ids currently remembered.
func (d *Deduplicator) Len() int {
	return d.cache.Len()
}
