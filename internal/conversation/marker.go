package conversation

import "strings"

const emergencyMarker = "[EMERGENCY:"

// maxMarkerLen bounds how much text the filter will buffer while looking for
// the closing bracket of a marker. A reply that opens the marker but never
// closes it within this window is treated as plain text.
const maxMarkerLen = 512

// markerFilter strips the model's emergency marker from the head of a
// streamed reply. Deltas are buffered only while the reply could still be a
// marker; once the decision is made, text passes through untouched, so the
// marker never reaches the client and non-marker replies stream with no
// added latency beyond the first few bytes.
type markerFilter struct {
	buf     string
	decided bool
	found   bool
	details string
}

// Feed consumes one delta and returns the text that is safe to emit.
func (f *markerFilter) Feed(delta string) string {
	if f.decided {
		return delta
	}
	f.buf += delta

	if len(f.buf) < len(emergencyMarker) {
		if strings.HasPrefix(emergencyMarker, f.buf) {
			return ""
		}
		return f.flush()
	}

	if !strings.HasPrefix(f.buf, emergencyMarker) {
		return f.flush()
	}

	if i := strings.Index(f.buf, "]"); i >= 0 {
		f.found = true
		f.details = strings.TrimSpace(f.buf[len(emergencyMarker):i])
		rest := strings.TrimLeft(f.buf[i+1:], " \n")
		f.buf = ""
		f.decided = true
		return rest
	}

	if len(f.buf) > maxMarkerLen {
		return f.flush()
	}
	return ""
}

// Flush returns any text still buffered at stream end.
func (f *markerFilter) Flush() string {
	if f.decided {
		return ""
	}
	return f.flush()
}

func (f *markerFilter) flush() string {
	out := f.buf
	f.buf = ""
	f.decided = true
	return out
}

// parseMarker extracts the emergency marker from a complete (non-streamed)
// reply. Returns the cleaned content, whether the marker was present, and
// its details.
func parseMarker(content string) (string, bool, string) {
	var f markerFilter
	out := f.Feed(content) + f.Flush()
	return out, f.found, f.details
}
