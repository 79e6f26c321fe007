package storage

import (
	"github.com/google/uuid"

	"github.com/sungwon/mailbatch/internal/ledger"
)

// messageKey identifies the row a status updates. A prepare error without
// a unique id gets a row of its own.
func messageKey(s ledger.Status) string {
	if s.UniqueID != "" {
		return s.UniqueID
	}
	return "noid-" + uuid.NewString()
}
