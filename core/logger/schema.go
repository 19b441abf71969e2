package logger

import "strings"

// Level names as rendered in the level field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

type set map[string]struct{}

func newSet(values ...string) set {
	s := make(set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// status is the result of a single step; outcome is the result of a whole update.
var (
	statuses = newSet("ok", "fail", "skip", "retry", "rate_limited", "cancelled", "denied")
	outcomes = newSet("ok", "fail", "panic", "cancelled", "rate_limited", "unmatched")
)

func normalizeLevel(level string) string {
	switch l := strings.ToUpper(strings.TrimSpace(level)); l {
	case "":
		return LevelInfo
	case "WARNING":
		return LevelWarn
	default:
		return l
	}
}

func normalizeStatus(status string) (string, bool) { return lookup(statuses, status) }

func normalizeOutcome(outcome string) (string, bool) { return lookup(outcomes, outcome) }

func lookup(s set, v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	_, ok := s[v]
	return v, ok
}

var defaultKeyOrder = concat(
	// header
	[]string{"ts", "level", "component", "event", "status"},
	// correlation
	[]string{"rid", "rid_full", "trace_id", "span_id", "ts_unix_nano"},
	// update
	[]string{"update_id", "kind", "correspondent_id", "chat_id", "handler", "handlers"},
	// state machine
	[]string{"state", "from_state", "to_state", "depth", "outcome", "duration_ms"},
	// engine and storage
	[]string{"in_flight", "workers", "allowed_updates", "backend", "namespace", "payload", "username"},
	// transport
	[]string{"mode", "listen", "public_url", "http_code", "method", "path", "db", "host", "port", "action", "endpoint"},
	// errors
	[]string{"err", "err_code", "cause", "attempts", "elapsed_ms"},
)

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
