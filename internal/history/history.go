// Package history persists averaged sensor readings to a CSV file and
// reloads them on startup so the dashboard can show recent conditions
// across restarts.
package history

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mgebhard/boltwood-dash/internal/boltwood"
)

const (
	maxEntries = 10
	timeLayout = "2006-01-02T15:04:05"
)

var csvHeader = []string{"time", "T_ambient", "humidity", "windspeed", "dT_sky", "raining"}

// columns maps CSV header positions 1..4 to report field names.
var columns = []string{
	"ambientTemperature",
	"relativeHumidityPercentage",
	"windSpeed",
	"skyMinusAmbientTemperature",
}

// Log is the averaged-report history: an append-only CSV file plus an
// in-memory ring of the newest entries. An empty path disables persistence
// but keeps the in-memory history working.
type Log struct {
	mu      sync.Mutex
	path    string
	log     *slog.Logger
	entries []*boltwood.Report // newest first
}

func New(path string, log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{path: path, log: log.With("component", "history")}
}

// Load reads previously logged averages from disk. Rows that do not parse
// are skipped with a warning; a wrong header abandons the whole file.
func (l *Log) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("history: open %s: %w", l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("history: read %s: %w", l.path, err)
	}
	if len(rows) == 0 {
		return nil
	}
	if !headerMatches(rows[0]) {
		l.log.Error("invalid history file format", "path", l.path)
		return nil
	}

	for _, row := range rows[1:] {
		rep, ok := l.parseRow(row)
		if !ok {
			l.log.Warn("skipping malformed history row", "fields", len(row))
			continue
		}
		l.entries = append(l.entries, rep)
	}
	l.sortAndCrop()

	l.log.Info("history loaded", "path", l.path, "entries", len(l.entries))
	return nil
}

// Append records one averaged report in memory and on disk.
func (l *Log) Append(rep *boltwood.Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, rep)
	l.sortAndCrop()

	if l.path == "" {
		return nil
	}

	writeHeader := false
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", l.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("history: write header: %w", err)
		}
	}
	if err := w.Write(buildRow(rep)); err != nil {
		return fmt.Errorf("history: write row: %w", err)
	}
	w.Flush()

	return w.Error()
}

// Entries returns the history, newest first.
func (l *Log) Entries() []*boltwood.Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*boltwood.Report, len(l.entries))
	copy(out, l.entries)
	return out
}

// Latest returns the most recent average, or nil when there is none.
func (l *Log) Latest() *boltwood.Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[0]
}

func (l *Log) sortAndCrop() {
	sort.Slice(l.entries, func(i, j int) bool {
		return l.entries[i].Time.After(l.entries[j].Time)
	})
	if len(l.entries) > maxEntries {
		l.entries = l.entries[:maxEntries]
	}
}

func (l *Log) parseRow(row []string) (*boltwood.Report, bool) {
	if len(row) != len(csvHeader) {
		return nil, false
	}

	ts, err := time.Parse(timeLayout, row[0])
	if err != nil {
		return nil, false
	}

	rep := &boltwood.Report{
		Type:     boltwood.SensorsReport,
		Time:     ts,
		Data:     make(map[string]any),
		Errors:   make(map[string]string),
		Comments: make(map[string]string),
	}
	for i, name := range columns {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return nil, false
		}
		rep.Data[name] = v
	}
	rain, err := strconv.ParseBool(row[5])
	if err != nil {
		return nil, false
	}
	rep.Data["rainSensor"] = rain

	return rep, true
}

func buildRow(rep *boltwood.Report) []string {
	row := make([]string, len(csvHeader))
	row[0] = rep.Time.Format(timeLayout)
	for i, name := range columns {
		if v, ok := rep.Float(name); ok {
			row[i+1] = strconv.FormatFloat(v, 'f', 2, 64)
		}
	}
	row[5] = strconv.FormatBool(rep.Bool("rainSensor"))
	return row
}

func headerMatches(row []string) bool {
	if len(row) != len(csvHeader) {
		return false
	}
	for i, h := range csvHeader {
		if row[i] != h {
			return false
		}
	}
	return true
}
