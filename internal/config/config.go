// Package config reads the command line and D30_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"d30-print/internal/ble"
)

const (
	// EnvPrefix prefixes every environment override, e.g. D30_ADDR.
	EnvPrefix = "D30"

	// DefaultScanTime is the discovery limit when --scan-time is not given.
	DefaultScanTime = 5 * time.Second
)

// Common errors
var (
	ErrMissingText     = errors.New("label text is required")
	ErrInvalidScanTime = errors.New("scan time must be positive")
)

// Config is one print invocation.
type Config struct {
	Text     string
	Addr     *ble.Address
	Font     string
	ScanTime time.Duration

	Image  string
	Dither bool
	QR     bool

	// Port prints through a serial device instead of Bluetooth LE.
	Port string
	// Dump writes payloads to a file instead of printing.
	Dump string
	// Preview saves a PNG of the printed result.
	Preview string

	Debug   bool
	Version bool
}

// New returns a configuration with defaults applied.
func New() Config {
	return Config{ScanTime: DefaultScanTime}
}

// Criterion returns the discovery match for this configuration
func (c Config) Criterion() ble.MatchCriterion {
	return ble.DefaultCriterion(c.Addr)
}

// LoadDotEnv loads .env from the working directory when it exists.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses args (without the program name). Flags win over D30_*
// environment variables, which win over defaults.
func Load(args []string, usage io.Writer) (Config, error) {
	cfg := New()

	flags := pflag.NewFlagSet("d30-print", pflag.ContinueOnError)
	flags.SetOutput(usage)
	flags.Usage = func() {
		fmt.Fprintf(usage, "Usage: d30-print [flags] <text>\n\n")
		flags.PrintDefaults()
	}
	flags.StringP("addr", "a", "", "MAC address of the D30, e.g. AA:BB:CC:DD:EE:FF (default: match by name \"D30\")")
	flags.StringP("font", "f", "", "font name or path to a TrueType file (default: embedded Go Regular)")
	flags.Float64("scan-time", cfg.ScanTime.Seconds(), "seconds to scan for the printer")
	flags.String("image", "", "print an image file instead of text")
	flags.Bool("dither", false, "dither the image instead of thresholding it")
	flags.Bool("qr", false, "print the text as a QR code")
	flags.String("port", "", "serial device bound to the printer, skips Bluetooth discovery")
	flags.String("dump", "", "write payloads as JSON lines to this file instead of printing")
	flags.String("preview", "", "save a PNG preview of the label")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("version", "v", false, "print version and exit")

	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return cfg, err
	}

	cfg.Version = v.GetBool("version")
	cfg.Debug = v.GetBool("debug")
	if cfg.Version {
		return cfg, nil
	}

	cfg.Text = strings.Join(flags.Args(), " ")
	cfg.Font = v.GetString("font")
	cfg.Image = v.GetString("image")
	cfg.Dither = v.GetBool("dither")
	cfg.QR = v.GetBool("qr")
	cfg.Port = v.GetString("port")
	cfg.Dump = v.GetString("dump")
	cfg.Preview = v.GetString("preview")

	if addr := v.GetString("addr"); addr != "" {
		a, err := ble.ParseAddress(addr)
		if err != nil {
			return cfg, err
		}
		cfg.Addr = &a
	}

	secs := v.GetFloat64("scan-time")
	if secs <= 0 {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidScanTime, secs)
	}
	cfg.ScanTime = time.Duration(secs * float64(time.Second))

	if cfg.Text == "" && cfg.Image == "" {
		return cfg, ErrMissingText
	}
	return cfg, nil
}
