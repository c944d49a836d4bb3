package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	log, err := New(Options{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.With("component", "test").Info("hello", "instance_id", "a")
	log.Debug("filtered out")
	_ = log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, `"component":"test"`) || !strings.Contains(out, `"instance_id":"a"`) {
		t.Errorf("expected fields in output, got %q", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("debug entry written at info level: %q", out)
	}
}

func TestNew_BadFile(t *testing.T) {
	_, err := New(Options{Level: "info", File: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Error("expected error for unwritable log path")
	}
}

func TestTrimFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("small file untouched", func(t *testing.T) {
		path := filepath.Join(dir, "small.log")
		if err := os.WriteFile(path, []byte("one\ntwo\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := trimFile(path, 1024, 16); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "one\ntwo\n" {
			t.Errorf("small file changed: %q", data)
		}
	})

	t.Run("large file keeps whole tail lines", func(t *testing.T) {
		path := filepath.Join(dir, "large.log")
		content := strings.Repeat("old line\n", 100) + "newest line\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		if err := trimFile(path, 100, 20); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(path)
		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		if !strings.HasPrefix(lines[0], "--- log trimmed") {
			t.Errorf("missing trim notice: %q", data)
		}
		if lines[len(lines)-1] != "newest line" {
			t.Errorf("last line = %q", lines[len(lines)-1])
		}
		for _, l := range lines[1:] {
			if l != "old line" && l != "newest line" {
				t.Errorf("partial line kept: %q", l)
			}
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if err := trimFile(filepath.Join(dir, "nope.log"), 1, 1); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
