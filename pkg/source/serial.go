package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaudRate matches the ADC bridge firmware.
const DefaultBaudRate = 115200

// Port describes an available serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns the serial ports present on the system.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// opener opens the named port. Replaced in tests.
type opener func(port string, baudRate int) (io.ReadCloser, error)

func openSerial(port string, baudRate int) (io.ReadCloser, error) {
	return serial.Open(port, &serial.Mode{BaudRate: baudRate})
}

// Serial reads voltages from an ADC bridge that prints one reading per line,
// either "voltage" or "unix_micros,voltage".
type Serial struct {
	port     string
	baudRate int
	open     opener
	logger   *zap.Logger

	conn      io.ReadCloser
	readings  chan Reading
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	warnParse rate.Sometimes
}

// NewSerial creates a serial source. bufSize 0 uses DefaultBufferSize.
func NewSerial(port string, baudRate int, bufSize int, logger *zap.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:      port,
		baudRate:  baudRate,
		open:      openSerial,
		logger:    logger,
		readings:  make(chan Reading, bufSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		warnParse: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Connect opens the port and starts reading lines.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return errors.New("already connected")
	}
	if d.ctx.Err() != nil {
		return errors.New("source closed")
	}

	conn, err := d.open(d.port, d.baudRate)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = conn
	d.connected = true
	d.logger.Info("[serial] connected", zap.String("portName", d.port), zap.Int("baudRate", d.baudRate))

	go d.readLines(conn)

	return nil
}

// Close closes the port and waits for the reader to stop.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.logger.Warn("[serial] error closing port", zap.Error(err), zap.String("portName", d.port))
		}
		d.conn = nil
	}
	d.connected = false
	d.mu.Unlock()

	<-d.done
	return nil
}

// Readings returns the channel of parsed readings.
func (d *Serial) Readings() <-chan Reading {
	return d.readings
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) readLines(conn io.Reader) {
	defer close(d.done)
	defer close(d.readings)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if d.ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		r, err := ParseLine(line, time.Now())
		if err != nil {
			d.warnParse.Do(func() {
				d.logger.Warn("[serial] failed to parse line", zap.Error(err), zap.String("line", line))
			})
			continue
		}

		select {
		case d.readings <- r:
		case <-d.ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		d.logger.Warn("[serial] read loop stopped", zap.Error(err), zap.String("portName", d.port))
	}
}

// ParseLine parses "voltage" or "unix_micros,voltage". Lines without a
// timestamp are stamped with now.
func ParseLine(line string, now time.Time) (Reading, error) {
	parts := strings.Split(line, ",")

	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("invalid voltage: %w", err)
		}
		return Reading{Time: now, Voltage: v}, nil
	case 2:
		micros, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return Reading{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("invalid voltage: %w", err)
		}
		return Reading{Time: time.UnixMicro(micros), Voltage: v}, nil
	default:
		return Reading{}, fmt.Errorf("invalid line format: expected 1 or 2 comma-separated values, got %d", len(parts))
	}
}
