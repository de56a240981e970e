package logger

import "strings"

type vocabulary map[string]struct{}

func vocab(words ...string) vocabulary {
	v := make(vocabulary, len(words))
	for _, w := range words {
		v[w] = struct{}{}
	}
	return v
}

// lookup lower-cases s and reports whether it belongs to the vocabulary.
func (v vocabulary) lookup(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	_, ok := v[s]
	return s, ok && s != ""
}

var (
	statuses = vocab("ok", "fail", "skip", "retry", "rate_limited", "cancelled", "unauthorized")
	// Conversation stages as logged by the wager state machine.
	stages   = vocab("idle", "awaiting_stock", "awaiting_number", "awaiting_amount", "awaiting_confirmation")
	outcomes = vocab("ok", "fail", "ignored", "dropped", "cancelled")
)

// normalizeLevel upper-cases slog level names and folds WARNING into WARN.
func normalizeLevel(level string) string {
	switch level = strings.ToUpper(strings.TrimSpace(level)); level {
	case "":
		return "INFO"
	case "WARNING":
		return "WARN"
	}
	return level
}

// normalizeStatus returns the canonical status; unknown values come back
// lower-cased with ok=false.
func normalizeStatus(status string) (string, bool) { return statuses.lookup(status) }

func normalizeStage(stage string) (string, bool) { return stages.lookup(stage) }

func normalizeOutcome(outcome string) (string, bool) { return outcomes.lookup(outcome) }

// defaultKeyOrder ranks the leading keys of every record; others follow alphabetically.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"platform",
	"event_idx",
	"user_id",
	"handler",
	"kind",
	"stage",
	"from_stage",
	"outcome",
	"duration_ms",
	"order_id",
	"stock",
	"number",
	"amount",
	"count",
	"payload",
	"method",
	"path",
	"http_code",
	"backend",
	"mode",
	"listen",
	"public_url",
	"db",
	"host",
	"port",
	"topic",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
}
