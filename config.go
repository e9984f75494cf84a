package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/jgerrish/image-rider/disk"
	"github.com/jgerrish/image-rider/loggy"
	"github.com/spf13/pflag"
)

const envPrefix = "IMAGE_RIDER_"

// Config is resolved from defaults, then IMAGE_RIDER_* environment
// variables, then command line flags.
type Config struct {
	IgnoreChecksums bool
	Verbose         bool
	LogFolder       string
	Workers         int
	Order           string
	Format          string
}

func binpath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("USERPROFILE"), "ImageRider")
	}
	return filepath.Join(os.Getenv("HOME"), ".image-rider")
}

func defaultConfig() Config {
	return Config{
		LogFolder: filepath.Join(binpath(), "logs"),
		Workers:   loaderWorkers,
		Order:     "auto",
	}
}

func (c *Config) loadEnv(getenv func(string) string) error {

	boolVar := func(name string, dst *bool) error {
		v := getenv(envPrefix + name)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	if err := boolVar("IGNORE_CHECKSUMS", &c.IgnoreChecksums); err != nil {
		return err
	}
	if err := boolVar("VERBOSE", &c.Verbose); err != nil {
		return err
	}
	if v := getenv(envPrefix + "LOG_FOLDER"); v != "" {
		c.LogFolder = v
	}
	if v := getenv(envPrefix + "WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%sWORKERS: want a positive integer, got %q", envPrefix, v)
		}
		c.Workers = n
	}
	if v := getenv(envPrefix + "ORDER"); v != "" {
		c.Order = v
	}
	if v := getenv(envPrefix + "FORMAT"); v != "" {
		c.Format = v
	}
	return nil
}

func (c *Config) bindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&c.IgnoreChecksums, "ignore-checksums", c.IgnoreChecksums, "decode without verifying checksums")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "log to stderr, including per sector defects")
	fs.StringVar(&c.LogFolder, "log-folder", c.LogFolder, "folder for log files")
	fs.IntVar(&c.Workers, "workers", c.Workers, "concurrent decoders for scan")
	fs.StringVar(&c.Order, "order", c.Order, "sector order hint for DSK images (auto|dos|prodos|linear)")
	fs.StringVar(&c.Format, "format", c.Format, "skip detection and decode as d64|dsk|nib|stx")
}

// apply pushes logging settings into loggy.
func (c Config) apply() {
	loggy.LogFolder = c.LogFolder
	loggy.ECHO = c.Verbose
	if c.Verbose {
		loggy.VERBOSITY = 1
	}
}

// Options builds the engine options for a worker with log id.
func (c Config) Options(id int) (disk.Options, error) {
	order, err := disk.ParseSectorOrder(c.Order)
	if err != nil {
		return disk.Options{}, err
	}
	opts := disk.Options{
		Order:  order,
		Logger: loggy.Logr(id),
	}
	if c.IgnoreChecksums {
		opts.Policy = disk.ChecksumsIgnored
	}
	return opts, nil
}

// decode identifies raw, or decodes it as the configured format.
func (c Config) decode(raw []byte, opts disk.Options) (*disk.DiskImage, error) {
	if strings.TrimSpace(c.Format) == "" {
		return disk.Identify(raw, opts)
	}
	f, err := disk.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	return disk.Decode(f, raw, opts)
}
