package sse

import "strconv"

// recordLines assembles the wire lines of one SSE record, terminated by the
// blank separator line. The payload is JSON, so it never contains a raw
// newline and each field stays on a single line.
func recordLines(payload []byte, cfg *sendConfig) []string {
	lines := make([]string, 0, 6)
	if cfg.event != "" {
		lines = append(lines, "event: "+cfg.event)
	}
	if cfg.id != "" {
		lines = append(lines, "id: "+cfg.id)
	}
	lines = append(lines, "data: "+string(payload))
	if cfg.hasRetry {
		lines = append(lines, "retry: "+strconv.Itoa(cfg.retry))
	}
	if cfg.eventID != "" {
		lines = append(lines, "eventId: "+cfg.eventID)
	}
	return append(lines, "")
}
