package influx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mgebhard/boltwood-dash/internal/boltwood"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func report(typ boltwood.ReportType) *boltwood.Report {
	return &boltwood.Report{
		Type:     typ,
		Time:     time.Now().UTC(),
		Data:     map[string]any{"ambientTemperature": 20.0},
		Errors:   map[string]string{},
		Comments: map[string]string{},
	}
}

func TestConfigEnabled(t *testing.T) {
	assert := assert.New(t)

	assert.False(Config{}.enabled())
	assert.False(Config{URL: "http://influx:8086", Token: "t", Org: "o"}.enabled())
	assert.True(Config{URL: "http://influx:8086", Token: "t", Org: "o", Bucket: "b"}.enabled())
}

func TestSinkDisabled(t *testing.T) {
	assert := assert.New(t)

	s := New(Config{}, testLogger())
	assert.Nil(s.write)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	s.Enqueue(report(boltwood.SensorsReport))

	cancel()
	s.Stop() // must return promptly

	assert.Len(s.queue, 1, "disabled sink parks reports without blocking")
}

func TestEnqueueFiltersAndNeverBlocks(t *testing.T) {
	assert := assert.New(t)

	s := New(Config{}, testLogger())

	s.Enqueue(report(boltwood.WetnessReport))
	assert.Empty(s.queue, "only sensors reports are exported")

	// Overfilling the queue drops instead of blocking the caller.
	for i := 0; i < queueSize+10; i++ {
		s.Enqueue(report(boltwood.SensorsReport))
	}
	assert.Len(s.queue, queueSize)
}
