package metrics

import (
	"sync"
	"sync/atomic"
)

// dispatchStats holds counters for automation dispatches and action outcomes.
// Kept simple/thread-safe for use from the engine and exposition.
type dispatchStats struct {
	dispatches uint64
	mu         sync.Mutex
	byTrigger  map[string]uint64
	byOutcome  map[string]uint64
}

var ds dispatchStats

// IncDispatch increments the dispatch counter for the given trigger kind.
func IncDispatch(trigger string) {
	if trigger == "" {
		trigger = "unknown"
	}
	atomic.AddUint64(&ds.dispatches, 1)
	ds.mu.Lock()
	if ds.byTrigger == nil {
		ds.byTrigger = make(map[string]uint64)
	}
	ds.byTrigger[trigger]++
	ds.mu.Unlock()
}

// IncActionOutcome increments the counter for one action outcome
// ("succeeded", "failed", "skipped").
func IncActionOutcome(outcome string) {
	ds.mu.Lock()
	if ds.byOutcome == nil {
		ds.byOutcome = make(map[string]uint64)
	}
	ds.byOutcome[outcome]++
	ds.mu.Unlock()
}

// DispatchSnapshot returns a copy of the current counters.
func DispatchSnapshot() (total uint64, byTrigger, byOutcome map[string]uint64) {
	total = atomic.LoadUint64(&ds.dispatches)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	byTrigger = make(map[string]uint64, len(ds.byTrigger))
	for k, v := range ds.byTrigger {
		byTrigger[k] = v
	}
	byOutcome = make(map[string]uint64, len(ds.byOutcome))
	for k, v := range ds.byOutcome {
		byOutcome[k] = v
	}
	return total, byTrigger, byOutcome
}
