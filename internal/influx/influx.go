// Package influx forwards decoded sensor reports to an InfluxDB 2.x bucket.
package influx

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/mgebhard/boltwood-dash/internal/boltwood"
)

const queueSize = 256

// fields maps report field names to time-series field keys.
var fields = map[string]string{
	"ambientTemperature":         "temp",
	"relativeHumidityPercentage": "humid",
	"windSpeed":                  "windspeed",
	"skyMinusAmbientTemperature": "skytemp",
	"rainSensor":                 "rain",
}

// Config holds the InfluxDB connection settings. The sink is disabled
// unless all four values are set.
type Config struct {
	URL    string `yaml:"url" json:"url"`
	Token  string `yaml:"token" json:"-"`
	Org    string `yaml:"org" json:"org"`
	Bucket string `yaml:"bucket" json:"bucket"`
}

func (c Config) enabled() bool {
	return c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// Sink batches sensor reports onto a queue and writes them to InfluxDB from
// its own goroutine, so a slow or unreachable database never stalls the
// serial polling loop.
type Sink struct {
	cfg    Config
	log    *slog.Logger
	client influxdb2.Client
	write  api.WriteAPIBlocking
	queue  chan *boltwood.Report
	done   chan struct{}
}

// New creates a Sink. With an incomplete configuration the sink still
// accepts reports but silently discards them.
func New(cfg Config, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	s := &Sink{
		cfg:   cfg,
		log:   log.With("component", "influx"),
		queue: make(chan *boltwood.Report, queueSize),
		done:  make(chan struct{}),
	}
	if cfg.enabled() {
		s.client = influxdb2.NewClient(cfg.URL, cfg.Token)
		s.write = s.client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	}
	return s
}

// Start launches the sender goroutine. It drains the queue until ctx is
// cancelled, then closes the client.
func (s *Sink) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop waits for the sender goroutine to finish.
func (s *Sink) Stop() {
	<-s.done
}

// Enqueue hands a report to the sink without blocking. Only sensors reports
// are exported; when the queue is full the report is dropped with a warning.
func (s *Sink) Enqueue(rep *boltwood.Report) {
	if rep.Type != boltwood.SensorsReport {
		return
	}
	select {
	case s.queue <- rep:
	default:
		s.log.Warn("export queue full, dropping report")
	}
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if s.client != nil {
			s.client.Close()
		}
	}()

	if s.write == nil {
		s.log.Info("export sink disabled")
		<-ctx.Done()
		return
	}

	s.log.Info("export sink started", "url", s.cfg.URL, "bucket", s.cfg.Bucket)

	for {
		select {
		case <-ctx.Done():
			return
		case rep := <-s.queue:
			if err := s.send(ctx, rep); err != nil {
				s.log.Error("export write failed", "error", err)
			}
		}
	}
}

func (s *Sink) send(ctx context.Context, rep *boltwood.Report) error {
	point := make(map[string]any, len(fields))
	for name, key := range fields {
		if v, ok := rep.Data[name]; ok {
			point[key] = v
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.write.WritePoint(writeCtx,
		influxdb2.NewPoint("boltwood", nil, point, rep.Time))
}
