package api

import (
	"sync"
	"time"

	"github.com/sungwon/mailbatch/internal/ledger"
)

// Registry remembers the live results of batches started by this process
// so that clients can poll them. Finished batches are forgotten once they
// are older than the retention.
type Registry struct {
	mu        sync.Mutex
	retention time.Duration
	batches   map[string]registered
	now       func() time.Time
}

type registered struct {
	result  ledger.Result
	started time.Time
}

// NewRegistry creates a registry. A retention <= 0 keeps finished batches
// for an hour.
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{
		retention: retention,
		batches:   make(map[string]registered),
		now:       time.Now,
	}
}

// Put records the latest run of a batch. A resend replaces the entry of
// the batch it resends.
func (r *Registry) Put(batchID string, res ledger.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, b := range r.batches {
		if b.result.IsProcessed() && now.Sub(b.started) > r.retention {
			delete(r.batches, id)
		}
	}
	r.batches[batchID] = registered{result: res, started: now}
}

// Get returns the live result of a batch.
func (r *Registry) Get(batchID string) (ledger.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	return b.result, ok
}
