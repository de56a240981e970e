package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

var errNoWriter = errors.New("logger: writer not initialized")

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders records as single-line JSON or key=value text
// with a stable leading key order.
type structuredHandler struct {
	cfg    handlerConfig
	rank   map[string]int
	attrs  []slog.Attr
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = defaultKeyOrder
	}
	rank := make(map[string]int, len(cfg.keyOrder))
	for i, k := range cfg.keyOrder {
		if _, dup := rank[k]; !dup {
			rank[k] = i
		}
	}
	return &structuredHandler{cfg: cfg, rank: rank}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errNoWriter
	}
	asJSON := h.cfg.format == formatJSON

	rec := newRecord(16)
	ts := r.Time.UTC()
	rec.set("ts", ts.Truncate(time.Millisecond).Format(timeFormatMillis))
	rec.set("level", normalizeLevel(r.Level.String()))
	if asJSON {
		rec.set("ts_unix_nano", ts.UnixNano())
	}

	for _, a := range h.attrs {
		rec.addAttr(h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.addAttr(h.prefix, a)
		return true
	})
	rec.addContext(ctx)

	if rid := rec.str("rid"); rid != "" {
		if compact := CompactRID(rid); compact != rid {
			if asJSON {
				rec.setDefault("rid_full", rid)
			}
			rec.set("rid", compact)
		}
	}
	if rec.str("event") == "" {
		event := r.Message
		if event == "" {
			event = "unknown"
		}
		rec.set("event", event)
	}
	if rec.str("component") == "" {
		rec.set("component", "app")
	}
	rec.enforceEnumerations()

	var line []byte
	if asJSON {
		var err error
		if line, err = encodeJSON(rec.sorted(h.rank)); err != nil {
			return err
		}
	} else {
		line = encodeKV(rec.sorted(h.rank))
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(append(clone.attrs, h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

type field struct {
	key string
	val any
}

// record is an insertion-ordered field set where later writes win.
type record struct {
	fields []field
	index  map[string]int
}

func newRecord(capacity int) *record {
	return &record{
		fields: make([]field, 0, capacity),
		index:  make(map[string]int, capacity),
	}
}

func (r *record) set(key string, val any) {
	if i, ok := r.index[key]; ok {
		r.fields[i].val = val
		return
	}
	r.index[key] = len(r.fields)
	r.fields = append(r.fields, field{key: key, val: val})
}

func (r *record) setDefault(key string, val any) {
	if _, ok := r.index[key]; !ok {
		r.set(key, val)
	}
}

func (r *record) drop(key string) {
	if i, ok := r.index[key]; ok {
		r.fields[i].val = nil
	}
}

func (r *record) str(key string) string {
	i, ok := r.index[key]
	if !ok {
		return ""
	}
	switch v := r.fields[i].val.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (r *record) addAttr(prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			r.addAttr(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, val, ok := plainValue(key, v); ok {
		r.set(k, val)
	}
}

func (r *record) addContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	for _, kv := range [...]struct{ key, val string }{
		{"rid", RIDFrom(ctx)},
		{"user_id", UserIDFrom(ctx)},
		{"platform", PlatformFrom(ctx)},
		{"handler", HandlerFrom(ctx)},
	} {
		if kv.val != "" {
			r.setDefault(kv.key, kv.val)
		}
	}
	if idx := EventIndexFrom(ctx); idx >= 0 {
		r.setDefault("event_idx", int64(idx))
	}
}

// enforceEnumerations normalizes closed-vocabulary fields. Stage and outcome
// values outside the vocabulary are dropped, unknown statuses pass through.
func (r *record) enforceEnumerations() {
	if s := r.str("status"); s != "" {
		if norm, ok := normalizeStatus(s); ok {
			r.set("status", norm)
		}
	}
	for _, key := range [...]string{"stage", "from_stage"} {
		if s := r.str(key); s != "" {
			if norm, ok := normalizeStage(s); ok {
				r.set(key, norm)
			} else {
				r.drop(key)
			}
		}
	}
	if s := r.str("outcome"); s != "" {
		if norm, ok := normalizeOutcome(s); ok {
			r.set("outcome", norm)
		} else {
			r.drop("outcome")
		}
	}
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// plainValue converts v into a JSON-friendly scalar. Durations become whole
// milliseconds under a key carrying the _ms suffix.
func plainValue(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return msKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}

	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case string:
		return key, strings.TrimSpace(x), true
	case error:
		return key, x.Error(), true
	case time.Duration:
		return msKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}
