package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mgebhard/boltwood-dash/internal/boltwood"
	"github.com/mgebhard/boltwood-dash/internal/history"
)

// jsonColumns are the sensors fields exposed on the JSON endpoints.
var jsonColumns = []string{
	"ambientTemperature",
	"relativeHumidityPercentage",
	"windSpeed",
	"skyMinusAmbientTemperature",
	"rainSensor",
}

// Server is the read-only web view onto the sensor data: it serves the
// embedded dashboard, pushes every decoded report to WebSocket clients, and
// runs the periodic averaging job.
type Server struct {
	cfg   *Config
	dev   *boltwood.Device
	hist  *history.Log
	webFS fs.FS
	log   *slog.Logger

	// Latest report per report type, written from the polling goroutine and
	// read by HTTP handlers.
	latest *xsync.MapOf[string, *boltwood.Report]

	// Sensors reports accumulated since the last average.
	pendingMu sync.Mutex
	pending   []*boltwood.Report

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Kind   string      `json:"kind"` // "report", "average" or "status"
	Report *reportView `json:"report,omitempty"`
	State  string      `json:"state,omitempty"`
	Stamp  int64       `json:"stamp"` // Unix ms
}

type reportView struct {
	Type     string            `json:"type"`
	Time     time.Time         `json:"time"`
	Data     map[string]any    `json:"data"`
	Errors   map[string]string `json:"errors,omitempty"`
	Comments map[string]string `json:"comments,omitempty"`
}

// New creates a Server.
func New(cfg *Config, dev *boltwood.Device, hist *history.Log, webFS fs.FS, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		dev:     dev,
		hist:    hist,
		webFS:   webFS,
		log:     log.With("component", "server"),
		latest:  xsync.NewMapOf[string, *boltwood.Report](),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleReport receives every decoded report from the polling goroutine.
// It must not block: it updates the latest-report map, queues sensors
// reports for averaging, and fans the report out to WebSocket clients.
func (s *Server) HandleReport(rep *boltwood.Report) {
	s.latest.Store(rep.Type.String(), rep)

	if rep.Type == boltwood.SensorsReport {
		s.pendingMu.Lock()
		s.pending = append(s.pending, rep)
		s.pendingMu.Unlock()
	}

	s.broadcast(Frame{
		Kind:   "report",
		Report: viewOf(rep),
		Stamp:  time.Now().UnixMilli(),
	})
}

// Run starts the HTTP server and the averaging job; it returns when the
// listener fails or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/current.json", s.handleCurrent)
	mux.HandleFunc("/average.json", s.handleAverage)
	mux.HandleFunc("/api/reports", s.handleReports)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)

	go s.averageLoop(ctx)
	go s.statusLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info("listening", "addr", s.cfg.Server.ListenAddr)

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// averageLoop periodically folds the accumulated sensors reports into one
// averaged report, records it in the history log, and announces it.
func (s *Server) averageLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Average.IntervalMin) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.averageNow()
		}
	}
}

func (s *Server) averageNow() {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if len(batch) == 0 {
		return
	}

	avg := boltwood.AverageSensors(batch)
	if err := s.hist.Append(avg); err != nil {
		s.log.Error("history append failed", "error", err)
	}

	s.log.Info("averaged reports", "count", len(batch))
	s.broadcast(Frame{
		Kind:   "average",
		Report: viewOf(avg),
		Stamp:  time.Now().UnixMilli(),
	})
}

// statusLoop pushes the serial connection state to clients.
func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(Frame{
				Kind:  "status",
				State: s.dev.State().String(),
				Stamp: time.Now().UnixMilli(),
			})
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	s.log.Debug("websocket client connected", "total", total)

	// Seed the new client with the latest report of every type.
	s.latest.Range(func(_ string, rep *boltwood.Report) bool {
		if data, err := json.Marshal(Frame{
			Kind:   "report",
			Report: viewOf(rep),
			Stamp:  time.Now().UnixMilli(),
		}); err == nil {
			client.send <- data
		}
		return true
	})

	// Writer goroutine.
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine, drains keep-alives and detects disconnects.
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Debug("websocket client disconnected", "total", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	rep, _ := s.latest.Load(boltwood.SensorsReport.String())
	s.writeRecord(w, rep)
}

func (s *Server) handleAverage(w http.ResponseWriter, r *http.Request) {
	s.writeRecord(w, s.hist.Latest())
}

// writeRecord renders the historical JSON record shape: capture time plus
// the headline sensors fields, "N/A" where a field is absent.
func (s *Server) writeRecord(w http.ResponseWriter, rep *boltwood.Report) {
	if rep == nil {
		http.Error(w, "no data yet", http.StatusNotFound)
		return
	}

	record := map[string]any{
		"time": rep.Time.Format("2006-01-02 15:04:05"),
	}
	for _, name := range jsonColumns {
		if v, ok := rep.Data[name]; ok {
			record[name] = v
		} else {
			record[name] = "N/A"
		}
	}

	s.writeJSON(w, record)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*reportView)
	s.latest.Range(func(typ string, rep *boltwood.Report) bool {
		out[typ] = viewOf(rep)
		return true
	})
	s.writeJSON(w, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"state": s.dev.State().String(),
		"time":  time.Now().UTC(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip.
		}
	}
}

func viewOf(rep *boltwood.Report) *reportView {
	return &reportView{
		Type:     rep.Type.String(),
		Time:     rep.Time,
		Data:     rep.Data,
		Errors:   rep.Errors,
		Comments: rep.Comments,
	}
}
