package boltwood

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const (
	// backoffFloor is the initial delay between reconnect attempts.
	backoffFloor = 1 * time.Second
	// backoffCeiling caps the reconnect delay; exceeding it resets to the floor.
	backoffCeiling = 900 * time.Second
	// failureLogEvery bounds log volume: connect failures are logged (and the
	// backoff adjusted) only on every Nth consecutive occurrence.
	failureLogEvery = 10

	// quiescenceWindow is how long the loop tolerates silence before
	// proactively re-polling. The head sometimes fails to respond after
	// calibration/threshold replies, so waiting forever is not an option.
	quiescenceWindow = 10 * time.Second

	// faultSleep is the pause after an unexpected poll-loop fault.
	faultSleep = 10 * time.Second

	readChunkSize = 256
)

// Port is the slice of a serial connection the polling loop needs. It is
// satisfied by go.bug.st/serial.Port and by fakes in tests.
type Port interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// ConnState describes the serial link lifecycle.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the serial connection settings for the sensor head.
type Config struct {
	PortPath   string `yaml:"port_path" json:"portPath"`
	BaudRate   int    `yaml:"baud_rate" json:"baudRate"`
	DataBits   int    `yaml:"data_bits" json:"dataBits"`
	Parity     string `yaml:"parity" json:"parity"` // "N", "E", "O"
	StopBits   int    `yaml:"stop_bits" json:"stopBits"`
	TimeoutSec int    `yaml:"timeout_s" json:"timeoutSec"` // serial read timeout
}

func (c *Config) applyDefaults() {
	if c.PortPath == "" {
		c.PortPath = "/dev/ttyUSB0"
	}
	if c.BaudRate == 0 {
		c.BaudRate = 4800
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 10
	}
}

// Device operates a Boltwood II cloud sensor head over a serial link.
//
// A single background goroutine owns the connection, the raw receive buffer
// and the backoff counters; no other goroutine ever touches them. Decoded
// reports are handed to the registered callback from that goroutine, so the
// callback must either return quickly or queue the report elsewhere.
type Device struct {
	cfg  Config
	log  *slog.Logger
	open func(Config) (Port, error) // swapped out in tests

	callback func(*Report)

	// Polling goroutine state.
	port      Port
	raw       []byte
	lastFrame time.Time

	connFailures int
	backoff      time.Duration

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDevice creates a Device for the given serial settings.
func NewDevice(cfg Config, log *slog.Logger) *Device {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Device{
		cfg:  cfg,
		log:  log.With("component", "boltwood"),
		open: openSerial,
	}
}

// State returns the current connection state; safe from any goroutine.
func (d *Device) State() ConnState {
	return ConnState(d.state.Load())
}

// StartPolling launches the background polling goroutine. callback is
// invoked once per successfully decoded message frame.
func (d *Device) StartPolling(ctx context.Context, callback func(*Report)) {
	d.callback = callback
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go d.run()
}

// Close stops the polling goroutine and waits for it to release the serial
// port. The current iteration finishes first; an in-flight read is not
// aborted.
func (d *Device) Close() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

func (d *Device) run() {
	defer close(d.done)

	d.connFailures = 0
	d.backoff = backoffFloor
	d.raw = nil

	for d.ctx.Err() == nil {
		d.pollIteration()
	}

	if d.port != nil {
		if err := d.port.Close(); err != nil {
			d.log.Warn("closing serial port failed", "error", err)
		}
		d.port = nil
	}
	d.state.Store(int32(Disconnected))
	d.log.Info("polling stopped")
}

// pollIteration runs one step of the poll loop. Whatever goes wrong inside
// must not kill the loop, so panics are contained here.
func (d *Device) pollIteration() {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("poll loop fault", "panic", r)
			d.wait(faultSleep)
		}
	}()

	if d.port == nil {
		d.connect()
		if d.port == nil {
			return
		}
	}
	d.readAndProcess()
}

// connect opens the serial port, applying the saw-tooth backoff on failure.
func (d *Device) connect() {
	d.state.Store(int32(Connecting))
	d.log.Debug("connecting to sensor head", "port", d.cfg.PortPath)

	port, err := d.open(d.cfg)
	if err != nil {
		d.state.Store(int32(Disconnected))
		d.registerFailure(err)
		return
	}

	d.port = port
	d.raw = nil
	d.lastFrame = time.Now()
	d.state.Store(int32(Connected))
	d.connFailures = 0
	d.backoff = backoffFloor

	d.log.Info("connected to sensor head",
		"port", d.cfg.PortPath,
		"baud", d.cfg.BaudRate)

	// Ask for data right away.
	d.sendPollRequest()
}

// registerFailure books one failed connection attempt and waits out the
// current backoff. The delay doubles on every 10th consecutive failure
// while below the ceiling; once past it, the next adjustment snaps back to
// the floor (saw-tooth, not monotonic). Logging happens only on those same
// 10th occurrences to avoid a log storm on a dead port.
func (d *Device) registerFailure(err error) {
	d.connFailures++
	if d.connFailures%failureLogEvery == 0 {
		if d.backoff < backoffCeiling {
			d.backoff *= 2
		} else {
			d.backoff = backoffFloor
		}
		d.log.Error("cannot reach sensor head",
			"failures", d.connFailures,
			"error", err,
			"backoff", d.backoff)
	}
	d.wait(d.backoff)
}

// wait sleeps for dur but returns early on shutdown.
func (d *Device) wait(dur time.Duration) {
	select {
	case <-d.ctx.Done():
	case <-time.After(dur):
	}
}

// readAndProcess performs one serial read, reassembles frames, and
// dispatches them. A transport error drops the connection; the next
// iteration goes through the reconnect path.
func (d *Device) readAndProcess() {
	buf := make([]byte, readChunkSize)
	n, err := d.port.Read(buf)
	if err != nil {
		d.log.Warn("serial read failed", "error", err)
		d.dropPort()
		return
	}

	d.raw = append(d.raw, buf[:n]...)

	frames, rest := ExtractFrames(d.raw)
	d.raw = rest

	for _, frame := range frames {
		d.handleFrame(frame)
		d.lastFrame = time.Now()
	}

	// No frame in a long time? Nudge the head instead of waiting forever.
	if time.Since(d.lastFrame) > quiescenceWindow {
		d.sendPollRequest()
	}
}

// handleFrame classifies one complete frame and reacts to it. Malformed
// frames are dropped with a warning; they never affect connection state.
func (d *Device) handleFrame(frame []byte) {
	if len(frame) == 0 || (len(frame) == 1 && frame[0] == FrameEnd) {
		// Empty response, re-poll.
		d.sendPollRequest()
		return
	}

	if frame[0] != FrameStart || frame[len(frame)-1] != FrameEnd {
		d.log.Warn("invalid frame", "len", len(frame))
		return
	}

	body := frame[1 : len(frame)-1]
	if len(body) == 0 || !validCommandChar(body[0]) {
		d.log.Warn("invalid command character", "frame", fmt.Sprintf("% X", frame))
		return
	}

	switch cmd := CommandChar(body[0]); cmd {
	case CmdPoll:
		// The head proactively signals readiness; acknowledge and re-poll.
		d.sendAck()

	case CmdAck, CmdNack:
		// Informational only.
		d.log.Debug("handshake frame", "command", cmd.String())

	case CmdMessage:
		rep, err := ParseReport(frame)
		if err != nil {
			d.log.Error("report decode failed", "error", err)
			return
		}
		if d.callback != nil {
			d.callback(rep)
		}
	}
}

// sendAck answers a head-initiated poll: a framed ACK followed immediately
// by a new poll request. This head's firmware revision expects the ACK to
// carry the same start/terminator framing as messages.
func (d *Device) sendAck() {
	d.write([]byte{FrameStart, byte(CmdAck), FrameEnd, PollByte})
}

// sendPollRequest asks the head to transmit its next reading.
func (d *Device) sendPollRequest() {
	d.write([]byte{PollByte})
}

func (d *Device) write(p []byte) {
	if d.port == nil {
		return
	}
	if _, err := d.port.Write(p); err != nil {
		d.log.Warn("serial write failed", "error", err)
		d.dropPort()
	}
}

func (d *Device) dropPort() {
	if d.port == nil {
		return
	}
	if err := d.port.Close(); err != nil {
		d.log.Warn("closing serial port failed", "error", err)
	}
	d.port = nil
	d.state.Store(int32(Disconnected))
}

// openSerial opens the real serial port per the configuration.
func openSerial(cfg Config) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   parityFromString(cfg.Parity),
		StopBits: stopBitsFromInt(cfg.StopBits),
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("boltwood: open %s: %w", cfg.PortPath, err)
	}
	if err := port.SetReadTimeout(time.Duration(cfg.TimeoutSec) * time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("boltwood: set read timeout: %w", err)
	}
	return port, nil
}

func parityFromString(s string) serial.Parity {
	switch s {
	case "E":
		return serial.EvenParity
	case "O":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func stopBitsFromInt(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
