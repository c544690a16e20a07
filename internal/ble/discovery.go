package ble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"go.uber.org/zap"

	"d30-print/internal/logger"
)

const (
	// DefaultScanTime bounds discovery when no limit is given.
	DefaultScanTime = 5 * time.Second

	// StopScanTimeout bounds the stop-scan command issued on exit.
	StopScanTimeout = 2 * time.Second

	// CancelGrace is how long a cancelled scan task is awaited.
	CancelGrace = 500 * time.Millisecond
)

type scanResult struct {
	dev Device
	err error
}

// Discover scans the adapters of mgr for the device selected by criterion.
//
// The scan runs as a separate task bounded by timeLimit. When the limit
// elapses the task is cancelled and ErrDiscoveryTimeout is returned, even if
// the task finds the device while it is winding down. The adapter's scan is
// stopped on every exit path.
//
// A backend that ignores cancellation can hold Discover for up to
// timeLimit + CancelGrace. Past that the task is abandoned and its scan may
// keep running on the adapter.
func Discover(ctx context.Context, mgr Manager, criterion MatchCriterion, timeLimit time.Duration) (Device, error) {
	if timeLimit <= 0 {
		timeLimit = DefaultScanTime
	}

	logger.Info("Searching for Bluetooth adapters")
	adapters, err := mgr.Adapters(ctx)
	if err != nil {
		return nil, fault.Wrap(err,
			fmsg.With("list Bluetooth adapters"),
			ftag.With(ftag.Internal),
		)
	}
	if len(adapters) == 0 {
		return nil, fault.Wrap(ErrNoAdaptersFound, ftag.With(ftag.NotFound))
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeLimit)
	defer cancel()

	done := make(chan scanResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scanResult{err: fmt.Errorf("%w: %v", ErrDiscoveryTaskFailed, r)}
			}
		}()
		dev, err := scanAdapters(scanCtx, adapters, criterion)
		done <- scanResult{dev: dev, err: err}
	}()

	select {
	case res := <-done:
		return discoveryResult(ctx, res)

	case <-scanCtx.Done():
		cancel()
		select {
		case res := <-done:
			if res.dev != nil {
				logger.Debug("Dropping device found after the deadline", zap.String("device", res.dev.ID()))
			}
		case <-time.After(CancelGrace):
			logger.Warn("Scan task did not stop after cancellation, the adapter may still be scanning")
		}
		return nil, interrupted(ctx)
	}
}

func discoveryResult(parent context.Context, res scanResult) (Device, error) {
	switch {
	case res.err == nil:
		return res.dev, nil
	case errors.Is(res.err, ErrDiscoveryTaskFailed):
		return nil, fault.Wrap(res.err, ftag.With(ftag.Internal))
	case errors.Is(res.err, context.DeadlineExceeded), errors.Is(res.err, context.Canceled):
		return nil, interrupted(parent)
	case errors.Is(res.err, ErrDeviceNotFound):
		return nil, fault.Wrap(res.err, ftag.With(ftag.NotFound))
	}
	return nil, fault.Wrap(res.err, fmsg.With("scan for printer"), ftag.With(ftag.Internal))
}

// interrupted reports why the scan task was stopped early.
func interrupted(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return fault.Wrap(err, fmsg.With("discovery cancelled"), ftag.With(ftag.Cancelled))
	}
	return fault.Wrap(ErrDiscoveryTimeout, ftag.With(ftag.NotFound))
}

func scanAdapters(ctx context.Context, adapters []Adapter, criterion MatchCriterion) (Device, error) {
	for _, a := range adapters {
		dev, err := scanAdapter(ctx, a, criterion)
		if err == nil {
			return dev, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrDeviceNotFound) {
			logger.Debug("No match on adapter", zap.String("adapter", a.ID()))
			continue
		}
		logger.Warn("Scan failed on adapter", zap.String("adapter", a.ID()), zap.Error(err))
	}
	return nil, ErrDeviceNotFound
}

func scanAdapter(ctx context.Context, a Adapter, criterion MatchCriterion) (Device, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("Scanning Bluetooth devices",
		zap.String("adapter", a.ID()),
		zap.Stringer("match", criterion))

	events, err := a.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to discovery events: %w", err)
	}
	if err := a.StartScan(ctx); err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}
	defer stopScan(ctx, a)

	// Devices whose descriptor had no name yet. BlueZ often delivers the
	// name in a later property change.
	unnamed := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, ErrDeviceNotFound
			}
			if ev.Kind != DeviceDiscovered {
				if _, ok := unnamed[ev.ID]; !ok {
					continue
				}
			}

			desc, err := a.Properties(ctx, ev.ID)
			if err != nil {
				logger.Warn("Error occurred while reading device properties",
					zap.String("device", ev.ID),
					zap.Error(err))
				continue
			}
			logger.Debug("Found BLE device",
				zap.String("name", desc.Name),
				zap.Stringer("address", desc.Address))

			if desc.HasName {
				delete(unnamed, ev.ID)
			} else {
				unnamed[ev.ID] = struct{}{}
			}
			if !criterion.Match(desc) {
				continue
			}

			dev, err := a.Device(ctx, ev.ID)
			if err != nil {
				return nil, fmt.Errorf("open device %s: %w", ev.ID, err)
			}
			logger.Info("Found printer", zap.Stringer("address", desc.Address))
			return dev, nil
		}
	}
}

// stopScan issues the stop command even when ctx is already cancelled.
func stopScan(ctx context.Context, a Adapter) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), StopScanTimeout)
	defer cancel()

	if err := a.StopScan(stopCtx); err != nil {
		logger.Warn("Failed to stop scan", zap.String("adapter", a.ID()), zap.Error(err))
	}
}
