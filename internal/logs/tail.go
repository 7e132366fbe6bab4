package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"
)

const maxLineBytes = 1 << 20

// DefaultPollInterval is how often Follow checks for new lines.
const DefaultPollInterval = 250 * time.Millisecond

// Cursor marks how far into a log file the caller has read.
type Cursor struct {
	Offset int64
	inode  uint64
}

// Last returns up to limit trailing lines of path and a cursor positioned at
// the end of the last complete line. A missing file yields no lines.
func Last(path string, limit int) ([]string, Cursor, error) {
	file, info, err := open(path)
	if err != nil || file == nil {
		return nil, Cursor{}, err
	}
	defer file.Close()

	keep := max(limit, 1)
	lines, offset, err := scanComplete(file, 0, keep)
	if limit <= 0 {
		lines = nil
	}
	return lines, Cursor{Offset: offset, inode: inodeOf(info)}, err
}

// ReadNew returns complete lines written after cur. When the file was
// replaced or truncated, reading restarts from the beginning.
func ReadNew(path string, cur Cursor) ([]string, Cursor, error) {
	file, info, err := open(path)
	if err != nil || file == nil {
		return nil, Cursor{}, err
	}
	defer file.Close()

	inode := inodeOf(info)
	start := cur.Offset
	if inode != cur.inode || info.Size() < start {
		start = 0
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return nil, cur, fmt.Errorf("seek log file: %w", err)
	}
	lines, consumed, err := scanComplete(file, start, 0)
	return lines, Cursor{Offset: consumed, inode: inode}, err
}

// Follow emits the last n lines of path, then every new line until ctx ends.
// It returns nil on cancellation and the first error from emit otherwise.
func Follow(ctx context.Context, path string, n int, poll time.Duration, emit func(string) error) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	lines, cur, err := Last(path, n)
	if err != nil {
		return err
	}
	for {
		for _, line := range lines {
			if err := emit(line); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(poll):
		}
		if lines, cur, err = ReadNew(path, cur); err != nil {
			return err
		}
	}
}

func open(path string) (*os.File, os.FileInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, info, nil
}

// scanComplete reads newline-terminated lines from r, which is positioned at
// start. With keep > 0 only the final keep lines are retained. A trailing
// partial line is left unread so a later call picks it up whole.
func scanComplete(r io.Reader, start int64, keep int) ([]string, int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	offset := start
	var (
		lines []string
		ring  []string
		next  int
	)
	if keep > 0 {
		ring = make([]string, 0, keep)
	}
	for {
		raw, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, start, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(raw))
		line := strings.TrimRight(raw, "\r\n")
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		switch {
		case keep <= 0:
			lines = append(lines, line)
		case len(ring) < keep:
			ring = append(ring, line)
		default:
			ring[next] = line
			next = (next + 1) % keep
		}
	}
	if keep > 0 {
		lines = append(ring[next:len(ring):len(ring)], ring[:next]...)
	}
	return lines, offset, nil
}

func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
