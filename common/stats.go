package common

import (
	"sort"
	"sync"
)

// Stats counts operations and sums the bytes they moved. It is the only type of the module that may be touched from
// several goroutines, as tooling reads it while a storage manager runs.
type Stats struct {
	counts map[string]int
	bytes  map[string]int64
	mu     sync.Mutex
}

// OpStat is the accumulated state of one operation.
type OpStat struct {
	Op    string
	Count int
	Bytes int64
}

func NewStats() *Stats {
	return &Stats{
		counts: map[string]int{},
		bytes:  map[string]int64{},
		mu:     sync.Mutex{},
	}
}

// Add records one call of op which moved n bytes.
func (s *Stats) Add(op string, n int64) {
	s.mu.Lock()
	s.counts[op] += 1
	s.bytes[op] += n
	s.mu.Unlock()
}

// Avg returns the average number of bytes moved per call of op.
func (s *Stats) Avg(op string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counts[op] == 0 {
		return 0
	}
	return float64(s.bytes[op]) / float64(s.counts[op])
}

// Snapshot returns all operations sorted by name.
func (s *Stats) Snapshot() []OpStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]OpStat, 0, len(s.counts))
	for op, c := range s.counts {
		res = append(res, OpStat{Op: op, Count: c, Bytes: s.bytes[op]})
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Op < res[j].Op
	})
	return res
}
