// Package profiler - Operation timing and heap tracking for network builds and inference.
package profiler

import (
	"runtime"
	"sort"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// OperationStats summarises the recorded durations of one operation.
type OperationStats struct {
	Name  string
	Count int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	// StdDev is the sample standard deviation, zero for a single run.
	StdDev time.Duration
	// HeapDelta is the heap growth across the last run.
	HeapDelta int64
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	durations []float64
	heapDelta int64
}

// Profiler records wall time and heap growth of named operations.
//
// The zero value is not usable; create one with New. A Profiler is safe for
// concurrent use.
type Profiler struct {
	mu        sync.Mutex
	start     time.Time
	ops       map[string]*TimeTracker
	order     []string
	log       *logrus.Entry
	heapAlloc func() uint64
}

// New creates a profiler that logs finished operations at debug level.
func New(log *logrus.Entry) *Profiler {
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "profiler")
	}
	return &Profiler{
		start:     time.Now(),
		ops:       make(map[string]*TimeTracker),
		log:       log,
		heapAlloc: heapAlloc,
	}
}

// StartOperation starts timing name and returns the function that stops it.
//
// @example
//
//	defer p.StartOperation("build")()
func (p *Profiler) StartOperation(name string) func() {
	begin := time.Now()
	heap := p.heapAlloc()
	return func() {
		d := time.Since(begin)
		delta := int64(p.heapAlloc()) - int64(heap)
		p.record(name, d, delta)
		p.log.WithFields(logrus.Fields{
			"operation": name,
			"duration":  d,
			"heap":      units.HumanSize(float64(delta)),
		}).Debug("operation finished")
	}
}

func (p *Profiler) record(name string, d time.Duration, heapDelta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.ops[name]
	if !ok {
		t = &TimeTracker{}
		p.ops[name] = t
		p.order = append(p.order, name)
	}
	t.durations = append(t.durations, float64(d))
	t.heapDelta = heapDelta
}

// Stats returns the statistics of every operation in first-seen order.
func (p *Profiler) Stats() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OperationStats, 0, len(p.order))
	for _, name := range p.order {
		t := p.ops[name]
		sorted := append([]float64(nil), t.durations...)
		sort.Float64s(sorted)

		var total float64
		for _, d := range sorted {
			total += d
		}
		mean, std := stat.MeanStdDev(sorted, nil)
		if len(sorted) < 2 {
			std = 0
		}
		out = append(out, OperationStats{
			Name:      name,
			Count:     len(sorted),
			Total:     time.Duration(total),
			Min:       time.Duration(sorted[0]),
			Max:       time.Duration(sorted[len(sorted)-1]),
			Mean:      time.Duration(mean),
			StdDev:    time.Duration(std),
			HeapDelta: t.heapDelta,
		})
	}
	return out
}

// Elapsed returns the time since the profiler was created.
func (p *Profiler) Elapsed() time.Duration {
	return time.Since(p.start)
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
