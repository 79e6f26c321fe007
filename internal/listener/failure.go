package listener

import (
	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/transport"
)

// FailureOf classifies a transport send error. Errors that do not come
// with a remote reply count as the transport being unavailable.
func FailureOf(err error) ledger.Failure {
	switch {
	case transport.IsPermanent(err):
		return ledger.FailureRejected
	case transport.IsRejected(err):
		return ledger.FailureDeferred
	default:
		return ledger.FailureUnavailable
	}
}
