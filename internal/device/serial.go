package device

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// Common errors
var (
	ErrNoDevice = errors.New("device: serial device path required")
	ErrClosed   = errors.New("device: port closed")
)

// Port is the byte stream to the board.
type Port interface {
	io.ReadWriteCloser
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyUSB0, /dev/cu.usbserial-1440)
	Device string

	// Baud rate (default: 9600)
	Baud int

	// ReadTimeout of zero blocks until data arrives. A non-zero timeout makes
	// idle periods look like end-of-stream to line scanners.
	ReadTimeout time.Duration

	// SettleDelay waits for the board to reset after the port opens.
	SettleDelay time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Baud:        9600,
		SettleDelay: 2 * time.Second,
	}
}

// OpenSerial opens the board's serial port and discards anything buffered
// while it was resetting.
func OpenSerial(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, ErrNoDevice
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultConfig().Baud
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", cfg.Device, err)
	}
	if cfg.SettleDelay > 0 {
		time.Sleep(cfg.SettleDelay)
	}
	if err := p.Flush(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("device: flush %s: %w", cfg.Device, err)
	}
	return p, nil
}

// Writer serialises command writes from concurrent controllers onto one port.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	log    *zap.SugaredLogger
	closed bool
}

func NewWriter(w io.Writer, log *zap.SugaredLogger) *Writer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Writer{w: w, log: log}
}

// Send writes one token as a single write.
func (w *Writer) Send(token string) error {
	if token == "" {
		return errEmptyToken
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(w.w, token); err != nil {
		w.log.Errorw("device_write_failed", "token", token, "err", err)
		return fmt.Errorf("device: write %q: %w", token, err)
	}
	w.log.Debugw("device_write", "token", token)
	return nil
}

// Close makes every later Send fail with ErrClosed. It does not close the
// underlying port.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
