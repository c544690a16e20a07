package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"d30-print/internal/logger"
)

// DisconnectTimeout bounds the disconnect issued on close or failed setup.
const DisconnectTimeout = 3 * time.Second

// Session is an open write channel to the printer.
// A Session must not be shared between jobs.
type Session struct {
	dev  Device
	char Characteristic

	mu     sync.Mutex
	closed bool
}

// Connect connects dev and resolves its print characteristic.
func Connect(ctx context.Context, dev Device) (*Session, error) {
	logger.Info("Connecting to printer", zap.String("device", dev.ID()))
	if err := dev.Connect(ctx); err != nil {
		return nil, fault.Wrap(fmt.Errorf("%w: %w", ErrConnectFailed, err),
			fmsg.With("connect to "+dev.ID()),
			ftag.With(ftag.Internal),
		)
	}

	char, err := resolveCharacteristic(ctx, dev)
	if err != nil {
		disconnect(ctx, dev)
		return nil, err
	}
	logger.Debug("Using characteristic",
		zap.String("id", char.ID),
		zap.String("uuid", char.UUID),
		zap.Stringer("flags", char.Flags))

	return &Session{dev: dev, char: char}, nil
}

func resolveCharacteristic(ctx context.Context, dev Device) (Characteristic, error) {
	chars, err := dev.Characteristics(ctx)
	if err != nil {
		return Characteristic{}, fault.Wrap(fmt.Errorf("%w: %w", ErrConnectFailed, err),
			fmsg.With("list characteristics"),
			ftag.With(ftag.Internal),
		)
	}

	candidates := lo.Filter(chars, func(c Characteristic, _ int) bool {
		return c.Flags == PrinterCharFlags
	})
	switch len(candidates) {
	case 0:
		return Characteristic{}, fault.Wrap(ErrCharacteristicNotFound, ftag.With(ftag.NotFound))
	case 1:
		return candidates[0], nil
	}
	ids := lo.Map(candidates, func(c Characteristic, _ int) string { return c.ID })
	return Characteristic{}, fault.Wrap(ErrCharacteristicAmbiguous,
		fmsg.With(fmt.Sprintf("candidates %v", ids)),
		ftag.With(ftag.Internal),
	)
}

// Characteristic returns the endpoint written to
func (s *Session) Characteristic() Characteristic {
	return s.char
}

// Write sends data as one acknowledged write and waits for the response.
func (s *Session) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fault.Wrap(fmt.Errorf("%w: session closed", ErrWriteFailed), ftag.With(ftag.Internal))
	}
	if err := s.dev.WriteCharacteristic(ctx, s.char, data, WithResponse); err != nil {
		return fault.Wrap(fmt.Errorf("%w: %w", ErrWriteFailed, err),
			fmsg.With(fmt.Sprintf("write %d bytes", len(data))),
			ftag.With(ftag.Internal),
		)
	}
	return nil
}

// Close disconnects the device. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), DisconnectTimeout)
	defer cancel()
	return s.dev.Disconnect(ctx)
}

func disconnect(ctx context.Context, dev Device) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DisconnectTimeout)
	defer cancel()

	if err := dev.Disconnect(ctx); err != nil {
		logger.Warn("Failed to disconnect", zap.String("device", dev.ID()), zap.Error(err))
	}
}
