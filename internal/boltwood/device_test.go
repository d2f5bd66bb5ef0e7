package boltwood

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort scripts serial reads through a channel and records every write.
type fakePort struct {
	reads chan []byte

	mu       sync.Mutex
	writes   []byte
	closed   bool
	closedCh chan struct{}
	once     sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:    make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data, ok := <-p.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(b, data), nil
	case <-p.closedCh:
		return 0, io.ErrClosedPipe
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.closedCh)
	})
	return nil
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.writes...)
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDevicePolling(t *testing.T) {
	assert := assert.New(t)

	fp := newFakePort()
	dev := NewDevice(Config{}, discardLogger())
	dev.open = func(Config) (Port, error) { return fp, nil }

	reports := make(chan *Report, 8)
	ctx, cancel := context.WithCancel(context.Background())
	dev.StartPolling(ctx, func(r *Report) { reports <- r })
	defer func() {
		cancel()
		close(fp.reads)
		dev.Close()
	}()

	// Connecting sends the first poll request.
	waitFor(t, "initial poll", func() bool {
		w := fp.written()
		return len(w) == 1 && w[0] == PollByte
	})
	assert.Equal(Connected, dev.State())

	// A head-initiated poll is answered with a framed ACK plus a re-poll.
	fp.reads <- []byte{FrameStart, byte(CmdPoll), FrameEnd}
	waitFor(t, "framed ack", func() bool {
		return bytes.Contains(fp.written(), []byte{FrameStart, byte(CmdAck), FrameEnd, PollByte})
	})

	// A message frame reaches the callback, even when split across reads.
	frame := []byte(sensorsFrame)
	fp.reads <- frame[:10]
	fp.reads <- frame[10:]

	select {
	case rep := <-reports:
		assert.Equal(SensorsReport, rep.Type)
		assert.True(rep.Clean())
	case <-time.After(2 * time.Second):
		t.Fatal("no report delivered")
	}

	// Handshake frames are informational and produce no report.
	fp.reads <- []byte{FrameStart, byte(CmdAck), FrameEnd}
	fp.reads <- []byte{FrameStart, byte(CmdNack), FrameEnd}

	// Malformed frames are dropped without touching the connection.
	fp.reads <- []byte("garbage\n")
	fp.reads <- []byte{FrameStart, 'Z', FrameEnd}

	// An empty response triggers a re-poll.
	before := bytes.Count(fp.written(), []byte{PollByte})
	fp.reads <- []byte{FrameEnd}
	waitFor(t, "re-poll after empty frame", func() bool {
		return bytes.Count(fp.written(), []byte{PollByte}) > before
	})

	assert.Empty(reports)
	assert.Equal(Connected, dev.State())
}

func TestDeviceReconnectsAfterReadError(t *testing.T) {
	assert := assert.New(t)

	first := newFakePort()
	second := newFakePort()
	ports := make(chan *fakePort, 2)
	ports <- first
	ports <- second

	dev := NewDevice(Config{}, discardLogger())
	dev.open = func(Config) (Port, error) {
		select {
		case p := <-ports:
			return p, nil
		default:
			return nil, errors.New("no more ports")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	dev.StartPolling(ctx, func(*Report) {})
	defer func() {
		cancel()
		close(second.reads)
		dev.Close()
	}()

	waitFor(t, "first connect", func() bool { return len(first.written()) > 0 })

	// Kill the first port; the loop must close it and move to the second.
	close(first.reads)
	waitFor(t, "second connect", func() bool { return len(second.written()) > 0 })

	assert.True(first.isClosed())
	assert.Equal(Connected, dev.State())
	assert.Equal([]byte{PollByte}, second.written()[:1])
}

// The reconnect delay follows a saw-tooth: every 10th consecutive failure
// doubles it until the ceiling, after which it snaps back to the floor.
func TestDeviceBackoffSawTooth(t *testing.T) {
	assert := assert.New(t)

	dev := NewDevice(Config{}, discardLogger())

	// A cancelled context makes the backoff wait return immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev.ctx = ctx
	dev.backoff = backoffFloor

	errDown := errors.New("port unavailable")

	expected := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		128 * time.Second,
		256 * time.Second,
		512 * time.Second,
		1024 * time.Second, // first value past the ceiling
		backoffFloor,       // and the snap back down
	}

	for i, want := range expected {
		for j := 0; j < failureLogEvery; j++ {
			dev.registerFailure(errDown)
		}
		assert.Equal(want, dev.backoff, "after %d failures", (i+1)*failureLogEvery)
	}
}

func TestDeviceCloseBeforeStart(t *testing.T) {
	dev := NewDevice(Config{}, discardLogger())
	dev.Close() // must not panic or block
}

func TestConfigDefaults(t *testing.T) {
	assert := assert.New(t)

	var cfg Config
	cfg.applyDefaults()
	assert.Equal("/dev/ttyUSB0", cfg.PortPath)
	assert.Equal(4800, cfg.BaudRate)
	assert.Equal(8, cfg.DataBits)
	assert.Equal("N", cfg.Parity)
	assert.Equal(1, cfg.StopBits)
	assert.Equal(10, cfg.TimeoutSec)

	cfg = Config{PortPath: "/dev/ttyAMA0", BaudRate: 9600}
	cfg.applyDefaults()
	assert.Equal("/dev/ttyAMA0", cfg.PortPath)
	assert.Equal(9600, cfg.BaudRate)
}

func TestSerialModeMapping(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(parityFromString("N"), parityFromString("unknown"))
	assert.NotEqual(parityFromString("N"), parityFromString("E"))
	assert.NotEqual(parityFromString("E"), parityFromString("O"))
	assert.NotEqual(stopBitsFromInt(1), stopBitsFromInt(2))

	// require keeps the helper honest about default fallbacks.
	require.Equal(t, stopBitsFromInt(1), stopBitsFromInt(0))
}
