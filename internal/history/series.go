package history

import (
	"sort"
	"time"
)

// series 保存按时间升序排列的读数，写入时先插入再按保留窗口裁剪。
// 裁剪只看时间，采样间隔仅用于预估容量。
type series struct {
	retention time.Duration
	samples   []Sample
}

func newSeries(retention, interval time.Duration) *series {
	expected := 1
	if interval > 0 && retention > 0 {
		expected = int(retention/interval) + 1
	}
	return &series{
		retention: retention,
		samples:   make([]Sample, 0, expected),
	}
}

func (s *series) insert(sample Sample) {
	idx := sort.Search(len(s.samples), func(i int) bool {
		return !s.samples[i].Timestamp.Before(sample.Timestamp)
	})

	if idx < len(s.samples) && s.samples[idx].Timestamp.Equal(sample.Timestamp) {
		s.samples[idx] = sample
	} else {
		s.samples = append(s.samples, Sample{})
		copy(s.samples[idx+1:], s.samples[idx:])
		s.samples[idx] = sample
	}

	s.prune()
}

func (s *series) prune() {
	if len(s.samples) == 0 {
		return
	}

	start := 0
	if s.retention > 0 {
		horizon := s.samples[len(s.samples)-1].Timestamp.Add(-s.retention)
		start = sort.Search(len(s.samples), func(i int) bool {
			return !s.samples[i].Timestamp.Before(horizon)
		})
	}
	if start > 0 {
		s.samples = append(s.samples[:0], s.samples[start:]...)
	}
}

// nearest 返回距离 target 最近且在容差内的读数。
func (s *series) nearest(target time.Time, tolerance time.Duration) (Sample, bool) {
	n := len(s.samples)
	if n == 0 {
		return Sample{}, false
	}

	idx := sort.Search(n, func(i int) bool {
		return !s.samples[i].Timestamp.Before(target)
	})

	best := -1
	var bestDiff time.Duration
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= n {
			continue
		}
		diff := absDuration(s.samples[i].Timestamp.Sub(target))
		if best == -1 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}

	if best == -1 || bestDiff > tolerance {
		return Sample{}, false
	}
	return s.samples[best], true
}

func (s *series) latest() (Sample, bool) {
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

func (s *series) snapshot() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
