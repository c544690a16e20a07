package printer

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// SerialPort writes payloads to a printer bound to a serial device,
// e.g. /dev/rfcomm0.
type SerialPort struct {
	port     serial.Port
	portName string
	mu       sync.Mutex
}

// DefaultMode is 115200 8N1
var DefaultMode = serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// OpenSerial opens portName with DefaultMode
func OpenSerial(portName string) (*SerialPort, error) {
	mode := DefaultMode
	port, err := serial.Open(portName, &mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}
	return NewSerialPort(port, portName), nil
}

// NewSerialPort wraps an already open port
func NewSerialPort(port serial.Port, portName string) *SerialPort {
	return &SerialPort{port: port, portName: portName}
}

// Write sends data and waits until the OS has transmitted it.
func (p *SerialPort) Write(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for len(data) > 0 {
		n, err := p.port.Write(data)
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		data = data[n:]
	}
	if err := p.port.Drain(); err != nil {
		return fmt.Errorf("drain failed: %w", err)
	}
	return nil
}

// Close closes the port
func (p *SerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// PortName returns the device path
func (p *SerialPort) PortName() string {
	return p.portName
}
