package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// ratioSampler admits n out of every d debug events. It is read on every
// sampled call from all dispatch workers, so it holds no lock.
type ratioSampler struct {
	// ratio packs n<<32 | d; zero admits everything.
	ratio atomic.Uint64
	seq   atomic.Uint64
}

func newRatioSampler(n, d int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(n, d)
	return s
}

// Set replaces the ratio and restarts the sequence. n or d <= 0 disables sampling.
func (s *ratioSampler) Set(n, d int) {
	var packed uint64
	if n > 0 && d > 0 {
		n = min(n, d)
		packed = uint64(n)<<32 | uint64(uint32(d))
	}
	s.ratio.Store(packed)
	s.seq.Store(0)
}

// Allow reports whether the next event passes.
func (s *ratioSampler) Allow() bool {
	packed := s.ratio.Load()
	if packed == 0 {
		return true
	}
	n, d := packed>>32, packed&0xffffffff
	return (s.seq.Add(1)-1)%d < n
}

// parseRatioSpec reads "n/d" or a bare "d" (meaning 1/d). Anything else,
// including "0", disables sampling.
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
