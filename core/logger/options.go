package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	coreconfig "github.com/m3rciful/betbot/core/config"
)

const (
	defaultSampleNum = 1
	defaultSampleDen = 50
)

// options is the resolved form of config.LoggingConfig.
type options struct {
	format     logFormat
	level      slog.Level
	keyOrder   []string
	sampleNum  int
	sampleDen  int
	profile    string
	file       string
	forceTrace bool
}

func optionsFrom(cfg *coreconfig.Config) options {
	o := options{
		format:    formatJSON,
		level:     slog.LevelInfo,
		keyOrder:  defaultKeyOrder,
		sampleNum: defaultSampleNum,
		sampleDen: defaultSampleDen,
		profile:   "prod",
	}
	o.forceTrace = truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE"))
	if cfg == nil {
		return o
	}
	lc := cfg.Logging

	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		o.format = formatKV
	case "json":
	default:
		if o.profile == "debug" || o.profile == "dev" {
			o.format = formatKV
		}
	}
	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		o.level = slog.LevelDebug
	case "warn", "warning":
		o.level = slog.LevelWarn
	case "error":
		o.level = slog.LevelError
	}
	if order := splitList(lc.KeysOrder); len(order) > 0 && !(len(order) == 1 && order[0] == "default") {
		o.keyOrder = order
	}
	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		switch n, d := parseRatioSpec(spec); {
		case n == 0 && d == 0:
			o.sampleNum, o.sampleDen = 0, 0
		case n > 0 && d > 0:
			o.sampleNum, o.sampleDen = n, d
		}
	}
	if dir, name := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.File); dir != "" && name != "" {
		o.file = filepath.Join(dir, name)
	}
	return o
}

// openSinks returns stdout plus the optional log file.
func (o options) openSinks() ([]io.Writer, []io.Closer, error) {
	if o.file == "" {
		return []io.Writer{os.Stdout}, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(o.file), 0o755); err != nil {
		return nil, nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	f, err := os.OpenFile(o.file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: open log file: %w", err)
	}
	return []io.Writer{os.Stdout, f}, []io.Closer{f}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
