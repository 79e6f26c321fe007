package pipeline

import "sync"

// inflight holds the ids of each batch that are between being saved and
// reaching a send outcome. Their content is in the store, so they show up
// as pending, yet a worker still owns them.
type inflight struct {
	mu  sync.Mutex
	ids map[string]map[string]int
}

func newInflight() *inflight {
	return &inflight{ids: make(map[string]map[string]int)}
}

func (f *inflight) add(batchID, uniqueID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLocked(batchID, uniqueID)
}

func (f *inflight) addLocked(batchID, uniqueID string) {
	byID := f.ids[batchID]
	if byID == nil {
		byID = make(map[string]int)
		f.ids[batchID] = byID
	}
	byID[uniqueID]++
}

func (f *inflight) done(batchID, uniqueID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := f.ids[batchID]
	if byID == nil {
		return
	}
	if byID[uniqueID]--; byID[uniqueID] <= 0 {
		delete(byID, uniqueID)
	}
	if len(byID) == 0 {
		delete(f.ids, batchID)
	}
}

// claim adds the ids that are not in flight and returns them. The others
// are returned as busy.
func (f *inflight) claim(batchID string, ids []string) (claimed, busy []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if f.ids[batchID][id] > 0 {
			busy = append(busy, id)
			continue
		}
		f.addLocked(batchID, id)
		claimed = append(claimed, id)
	}
	return claimed, busy
}
