package msgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/sungwon/mailbatch/internal/message"
)

// ContentStore saves prepared messages keyed by (batch id, unique id). A
// message stays loadable until Delete, which is what lets a restarted
// process resume sending.
type ContentStore struct {
	blobs Store
}

// NewContentStore wraps a blob Store.
func NewContentStore(blobs Store) *ContentStore {
	return &ContentStore{blobs: blobs}
}

// Key returns the blob key of a message.
func Key(batchID, uniqueID string) string {
	return batchID + "/" + uniqueID
}

// Save serializes m under its unique id. A Message-Id is assigned first if
// the message has none.
func (c *ContentStore) Save(ctx context.Context, batchID string, m *message.Message) error {
	uid, err := message.UniqueID(m)
	if err != nil {
		return fmt.Errorf("msgstore: save %s: %w", batchID, err)
	}
	data, err := m.Bytes()
	if err != nil {
		return fmt.Errorf("msgstore: save %s/%s: %w", batchID, uid, err)
	}
	return c.blobs.Put(ctx, Key(batchID, uid), data)
}

// Load reads back a saved message. Returns ErrNotFound when absent.
func (c *ContentStore) Load(ctx context.Context, batchID, uniqueID string) (*message.Message, error) {
	data, err := c.blobs.Get(ctx, Key(batchID, uniqueID))
	if err != nil {
		return nil, err
	}
	m, err := message.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("msgstore: load %s/%s: %w", batchID, uniqueID, err)
	}
	return m, nil
}

// Delete removes a saved message. Deleting a missing message is not an error.
func (c *ContentStore) Delete(ctx context.Context, batchID, uniqueID string) error {
	return c.blobs.Delete(ctx, Key(batchID, uniqueID))
}

// Pending returns the unique ids still stored for a batch: messages that were
// prepared but never sent, or whose send failed.
func (c *ContentStore) Pending(ctx context.Context, batchID string) ([]string, error) {
	prefix := batchID + "/"
	keys, err := c.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, prefix)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
