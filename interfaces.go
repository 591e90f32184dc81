package collector

import (
	"context"

	"github.com/tuplestream/collector/internal/value"
)

// SessionSink is what the protocol/session layer calls to push one
// decoded tuple into an experiment's database. The TCP listener,
// per-client session thread, and on-wire tuple decoding are out of scope
// for this module — SessionSink is the seam those collaborators call
// through.
type SessionSink interface {
	Insert(ctx context.Context, table string, senderID, seq int64, timeClient float64, values []value.Value) error
}

// PrefaceSource supplies the opaque meta-lane header a BufferedWriter
// stores once per connection and re-offers to its sink on every drain.
// The out-of-scope session layer implements this to hand the writer its
// schema preface at connection start.
type PrefaceSource interface {
	Preface(ctx context.Context) ([]byte, error)
}
