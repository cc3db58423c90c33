package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxLineSize bounds a single NDJSON line. Image content can be large.
const maxLineSize = 64 << 20

// ReadLines returns the non-blank lines of an NDJSON file.
// Lines are not validated; callers decide what to skip.
func ReadLines(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	var lines []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append(json.RawMessage(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return lines, fmt.Errorf("failed to scan log: %w", err)
	}
	return lines, nil
}

// ReadFirstLine returns the first non-blank line of an NDJSON file.
func ReadFirstLine(path string) (json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			return append(json.RawMessage(nil), line...), nil
		}
	}
	return nil, sc.Err()
}

// AppendLines marshals each value and appends it as one line, holding the file lock.
func AppendLines(path string, values ...any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	buf, err := encodeLines(values)
	if err != nil {
		return err
	}

	lock := NewFileLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("failed to append: %w", err)
	}
	return nil
}

// RewriteLines replaces the file content with one line per value, atomically.
func RewriteLines(path string, values ...any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	buf, err := encodeLines(values)
	if err != nil {
		return err
	}

	lock := NewFileLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	return writeAtomic(path, buf, 0644)
}

func encodeLines(values []any) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// LogFile describes one NDJSON file in a directory.
type LogFile struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ListLogs returns the files in dir with the given suffix, newest first.
func ListLogs(dir, suffix string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var logs []LogFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		logs = append(logs, LogFile{
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].ModTime.After(logs[j].ModTime)
	})
	return logs, nil
}
