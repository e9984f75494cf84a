package main

import (
	"strings"
	"testing"

	"github.com/jgerrish/image-rider/disk"
	"github.com/spf13/pflag"
)

type stringsBuilder struct {
	strings.Builder
}

func (b *stringsBuilder) contains(s string) bool {
	return strings.Contains(b.String(), s)
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadEnv(t *testing.T) {

	cfg := defaultConfig()
	err := cfg.loadEnv(envMap(map[string]string{
		"IMAGE_RIDER_IGNORE_CHECKSUMS": "true",
		"IMAGE_RIDER_WORKERS":          "3",
		"IMAGE_RIDER_ORDER":            "prodos",
		"IMAGE_RIDER_LOG_FOLDER":       "/tmp/ir",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IgnoreChecksums || cfg.Workers != 3 || cfg.Order != "prodos" || cfg.LogFolder != "/tmp/ir" || cfg.Verbose {
		t.Fatalf("config = %+v", cfg)
	}

	opts, err := cfg.Options(0)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Policy != disk.ChecksumsIgnored || opts.Order != disk.SectorOrderProDOS {
		t.Errorf("options = %+v", opts)
	}

	for _, bad := range []map[string]string{
		{"IMAGE_RIDER_WORKERS": "0"},
		{"IMAGE_RIDER_WORKERS": "many"},
		{"IMAGE_RIDER_VERBOSE": "loud"},
	} {
		c := defaultConfig()
		if err := c.loadEnv(envMap(bad)); err == nil {
			t.Errorf("%v accepted", bad)
		}
	}
}

func TestFlagsOverrideEnv(t *testing.T) {

	cfg := defaultConfig()
	if err := cfg.loadEnv(envMap(map[string]string{"IMAGE_RIDER_ORDER": "dos"})); err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.bindFlags(fs)
	if err := fs.Parse([]string{"--order", "linear", "-v", "--format", "nib"}); err != nil {
		t.Fatal(err)
	}
	if cfg.Order != "linear" || !cfg.Verbose || cfg.Format != "nib" {
		t.Fatalf("config = %+v", cfg)
	}

	// untouched flags keep the environment value
	cfg = defaultConfig()
	cfg.loadEnv(envMap(map[string]string{"IMAGE_RIDER_ORDER": "dos"}))
	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.bindFlags(fs)
	fs.Parse(nil)
	if cfg.Order != "dos" {
		t.Errorf("order = %q", cfg.Order)
	}
}

func TestConfigDecode(t *testing.T) {

	raw := testD64()

	cfg := defaultConfig()
	opts, _ := cfg.Options(0)
	img, err := cfg.decode(raw, opts)
	if err != nil || img.Format != disk.FormatD64 {
		t.Fatalf("identify: %v", err)
	}

	cfg.Format = "stx"
	if _, err := cfg.decode(raw, opts); disk.KindOf(err) != disk.KindStructuralMismatch {
		t.Fatalf("forced STX: %v", err)
	}

	cfg.Format = "adf"
	if _, err := cfg.decode(raw, opts); err == nil {
		t.Fatal("unknown forced format accepted")
	}

	cfg.Order = "sideways"
	if _, err := cfg.Options(0); err == nil {
		t.Fatal("unknown order accepted")
	}
}
