package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Southclaws/fault/ftag"
	"github.com/disintegration/imaging"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"d30-print/internal/ble"
	"d30-print/internal/config"
	"d30-print/internal/logger"
	"d30-print/internal/printer"
	"d30-print/internal/raster"
)

const (
	AppVersion = "0.3.0"
	AppName    = "D30 Print"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		return 2
	}
	if cfg.Version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		return 0
	}

	if err := logger.Init(cfg.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := printLabel(ctx, cfg); err != nil {
		logger.Error("print failed", zap.Error(err), zap.String("kind", string(ftag.Get(err))))
		return 1
	}
	return 0
}

func printLabel(ctx context.Context, cfg config.Config) error {
	img, err := raster.Label(raster.Options{
		Text:      cfg.Text,
		Font:      cfg.Font,
		QR:        cfg.QR,
		ImagePath: cfg.Image,
		Dither:    cfg.Dither,
	})
	if err != nil {
		return err
	}

	if cfg.Preview != "" {
		if err := imaging.Save(raster.Preview(img), cfg.Preview); err != nil {
			return fmt.Errorf("save preview: %w", err)
		}
		logger.Info("preview saved", zap.String("path", cfg.Preview))
	}

	w, closer, err := openWriter(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("close transport", zap.Error(err))
		}
	}()

	if err := printer.Print(ctx, img, w); err != nil {
		return err
	}
	logger.Info("label printed")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openWriter picks the transport: a dump file, a serial port, or the
// first D30 found over Bluetooth LE.
func openWriter(ctx context.Context, cfg config.Config) (printer.Writer, io.Closer, error) {
	switch {
	case cfg.Dump != "":
		f, err := os.Create(cfg.Dump)
		if err != nil {
			return nil, nil, err
		}
		return printer.NewDump(f), f, nil

	case cfg.Port != "":
		port, err := printer.OpenSerial(cfg.Port)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("serial port open", zap.String("port", port.PortName()))
		return port, port, nil
	}

	mgr, err := ble.NewManager()
	if err != nil {
		return nil, nil, err
	}

	logger.Info("scanning", zap.Stringer("match", cfg.Criterion()), zap.Duration("limit", cfg.ScanTime))
	dev, err := ble.Discover(ctx, mgr, cfg.Criterion(), cfg.ScanTime)
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}

	session, err := ble.Connect(ctx, dev)
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}
	logger.Info("connected", zap.String("device", dev.ID()), zap.String("characteristic", session.Characteristic().UUID))

	return session, closerFunc(func() error {
		return errors.Join(session.Close(), mgr.Close())
	}), nil
}
