package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// ratioSampler lets through the first n of every d events.
// A zero ratio disables sampling and lets everything through.
type ratioSampler struct {
	ratio atomic.Uint64 // n<<32 | d
	seen  atomic.Uint64
}

func newRatioSampler(n, d int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(n, d)
	return s
}

// Set replaces the ratio and restarts the window.
func (s *ratioSampler) Set(n, d int) {
	if n <= 0 || d <= 0 {
		s.ratio.Store(0)
	} else {
		n = min(n, d)
		s.ratio.Store(uint64(n)<<32 | uint64(uint32(d)))
	}
	s.seen.Store(0)
}

// Allow reports whether the current event passes.
func (s *ratioSampler) Allow() bool {
	r := s.ratio.Load()
	if r == 0 {
		return true
	}
	n, d := r>>32, r&0xffffffff
	pos := (s.seen.Add(1) - 1) % d
	return pos < n
}

// parseRatioSpec accepts "n/d" or a bare "d" meaning 1/d. Anything else disables sampling.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if num, den, ok := strings.Cut(spec, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return n, d
	}
	d, err := strconv.Atoi(spec)
	if err != nil || d <= 0 {
		return 0, 0
	}
	return 1, d
}
