package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOperation(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	p := New(logger.WithField("component", "profiler"))

	heap := uint64(1000)
	p.heapAlloc = func() uint64 { heap += 512; return heap }

	for i := 0; i < 3; i++ {
		stop := p.StartOperation("build")
		time.Sleep(time.Millisecond)
		stop()
	}
	p.StartOperation("predict")()

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "build", stats[0].Name, "first-seen order")
	assert.Equal(t, 3, stats[0].Count)
	assert.GreaterOrEqual(t, stats[0].Min, time.Millisecond)
	assert.LessOrEqual(t, stats[0].Min, stats[0].Mean)
	assert.LessOrEqual(t, stats[0].Mean, stats[0].Max)
	assert.Equal(t, int64(512), stats[0].HeapDelta)

	assert.Equal(t, 1, stats[1].Count)
	assert.Zero(t, stats[1].StdDev)

	assert.Len(t, hook.AllEntries(), 4)
	assert.Equal(t, "predict", hook.LastEntry().Data["operation"])
}

func TestConcurrentOperations(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := New(logger.WithField("component", "profiler"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.StartOperation("run")()
		}()
	}
	wg.Wait()

	stats := p.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 8, stats[0].Count)
	assert.Positive(t, p.Elapsed())
}
