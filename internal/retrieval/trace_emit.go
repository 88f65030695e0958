package retrieval

import (
	"fmt"
	"time"

	"contextfs/internal/ids"
	"contextfs/internal/logging"
	"contextfs/internal/model"
)

// emitTrace finalizes and appends tr, regardless of whether the command
// succeeded, so every retrieval operation leaves a durable record
// (spec.md §4.9: "Every command emits a retrieval trace (successful or
// error)").
func (e *Engine) emitTrace(tr *model.Trace, start time.Time) {
	tr.TraceID = ids.TraceID(fmt.Sprintf("%s|%s|%d", tr.Command, tr.Query, start.UnixNano()))
	tr.Ts = start.UTC().Format(time.RFC3339Nano)
	tr.DurationMs = time.Since(start).Milliseconds()

	if st, err := e.state.ReadState(); err == nil {
		tr.StateRevision = st.Revision
	}

	if err := e.trace.Append(*tr); err != nil {
		logging.Get(logging.CategoryTrace).Warn("retrieval: failed to append trace for %s: %v", tr.Command, err)
	}
}
