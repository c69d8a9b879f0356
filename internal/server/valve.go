package server

import (
	"sync"
	"time"

	"github.com/juju/ratelimit"
)

const valveIdleEvict = 30 * time.Minute

// Valve throttles authentication attempts per source host with a token
// bucket each, bounding how fast a single source can grind passwords while
// leaving well-behaved clients untouched by each other's buckets.
type Valve struct {
	mu           sync.Mutex
	buckets      map[string]*valveEntry
	fillInterval time.Duration
	capacity     int64
}

type valveEntry struct {
	bucket   *ratelimit.Bucket
	lastSeen time.Time
}

func NewValve(perMinute int) *Valve {
	v := &Valve{
		buckets:      make(map[string]*valveEntry),
		fillInterval: time.Minute / time.Duration(perMinute),
		capacity:     int64(perMinute),
	}
	go v.cleaner()
	return v
}

// Take reserves one attempt for host and returns how long the caller must
// wait before proceeding with it.
func (v *Valve) Take(host string) time.Duration {
	v.mu.Lock()
	entry, ok := v.buckets[host]
	if !ok {
		entry = &valveEntry{bucket: ratelimit.NewBucket(v.fillInterval, v.capacity)}
		v.buckets[host] = entry
	}
	entry.lastSeen = time.Now()
	v.mu.Unlock()
	return entry.bucket.Take(1)
}

// cleaner drops buckets for sources not seen for a while. A dropped bucket
// just means the next attempt starts with a fresh full one.
func (v *Valve) cleaner() {
	for {
		time.Sleep(valveIdleEvict)
		cutoff := time.Now().Add(-valveIdleEvict)
		v.mu.Lock()
		for host, entry := range v.buckets {
			if entry.lastSeen.Before(cutoff) {
				delete(v.buckets, host)
			}
		}
		v.mu.Unlock()
	}
}
