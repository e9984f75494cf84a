package loggy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLogs(t *testing.T, dir string) string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		sb.Write(b)
	}
	return sb.String()
}

func TestLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	LogFolder = dir
	defer CloseAll()

	l := Get(101)
	l.Logf("opened %s", "disk.d64")
	l.Errorf("bad sector %d", 7)
	CloseAll()

	out := readLogs(t, dir)
	if !strings.Contains(out, "INFO  :: opened disk.d64") {
		t.Errorf("missing info line in %q", out)
	}
	if !strings.Contains(out, "ERROR :: bad sector 7") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestLogrSink(t *testing.T) {
	dir := t.TempDir()
	LogFolder = dir
	VERBOSITY = 0
	defer func() { VERBOSITY = 0 }()
	defer CloseAll()

	lg := Logr(102).WithName("nib").WithValues("file", "a.nib")
	lg.Info("decoded", "tracks", 35)
	lg.V(1).Info("hidden")
	lg.Error(errors.New("boom"), "failed")
	CloseAll()

	out := readLogs(t, dir)
	if !strings.Contains(out, "nib: decoded file=a.nib tracks=35") {
		t.Errorf("missing info line in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("V(1) line written at verbosity 0: %q", out)
	}
	if !strings.Contains(out, "nib: failed file=a.nib error=boom") {
		t.Errorf("missing error line in %q", out)
	}
}
