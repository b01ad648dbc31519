package sink

import (
	"strconv"

	"github.com/ghalamif/AegisStream/internal/ports"
)

// Diagnostics is the compact health view of a sink served on /status.
// Counters that are still zero are left out.
type Diagnostics struct {
	Backend string `json:"backend"`
	Buffer  string `json:"buffer"`
	OK      int64  `json:"ok"`
	Sent    uint64 `json:"sent"`
	Errors  uint64 `json:"errors,omitempty"`
	Err     int64  `json:"err,omitempty"`
	Dropped uint64 `json:"dropped,omitempty"`
}

func DiagnosticsFor(st ports.SinkStats) Diagnostics {
	d := Diagnostics{
		Backend: st.Backend,
		OK:      st.LastFlushOKAt,
		Sent:    st.SentBytes,
		Errors:  st.ErrorCount,
		Err:     st.LastFlushErrAt,
		Dropped: st.DroppedCount,
	}
	switch {
	case st.Backend == BackendNull:
		d.Buffer = "stub"
	case st.Backend == BackendRing:
		d.Buffer = strconv.Itoa(st.BufferedLines) + " / " + strconv.Itoa(st.Capacity)
	default:
		d.Buffer = strconv.Itoa(st.BufferedBytes) + " / " + strconv.Itoa(st.Capacity)
	}
	return d
}
