package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Log files larger than maxFileSize are cut down to roughly their last
// keepSize bytes when a Logger opens them.
const (
	maxFileSize = 50 << 20
	keepSize    = 1 << 20
)

// trimFile shrinks path to its last keep bytes, starting at a line boundary,
// if it is larger than limit. A missing file is not an error.
func trimFile(path string, limit, keep int64) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= limit {
		return nil
	}

	if keep > info.Size() {
		keep = info.Size()
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file for trimming: %w", err)
	}
	tail, err := io.ReadAll(io.NewSectionReader(f, info.Size()-keep, keep))
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read log file tail: %w", err)
	}
	if i := bytes.IndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}

	notice := fmt.Sprintf("--- log trimmed from %d to %d bytes ---\n", info.Size(), len(tail))
	if err := os.WriteFile(path, append([]byte(notice), tail...), 0600); err != nil {
		return fmt.Errorf("rewrite log file: %w", err)
	}
	return nil
}
