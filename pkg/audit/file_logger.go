package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrChainBroken is returned by VerifyFile when a record does not follow its
// predecessor.
var ErrChainBroken = errors.New("audit hash chain broken")

const (
	currentFile   = "audit.ndjson"
	rotatedGlob   = "audit-*.ndjson"
	rotatedLayout = "20060102T150405.000000000"
)

// fileRecord is one NDJSON line. Hash covers Prev and the encoded event, so
// editing, dropping or reordering lines is detectable.
type fileRecord struct {
	Seq   uint64          `json:"seq"`
	Prev  string          `json:"prev"`
	Hash  string          `json:"hash"`
	Event json.RawMessage `json:"event"`
}

func chainHash(prev string, event []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(event)
	return hex.EncodeToString(h.Sum(nil))
}

// FileLogger mirrors audit events to hash-chained NDJSON files. The active
// file is rotated by size and the chain continues into the next file.
type FileLogger struct {
	mu       sync.Mutex
	dir      string
	file     *os.File
	size     int64
	seq      uint64
	last     string
	rotate   bool
	maxSize  int64
	maxFiles int
	now      func() time.Time
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // directory holding audit.ndjson and rotated files
	Rotate   bool
	MaxSize  int64 // rotate once the active file reaches this (default 100MB)
	MaxFiles int   // rotated files kept (default 10)
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/datawave/audit",
		Rotate:   true,
		MaxSize:  100 << 20,
		MaxFiles: 10,
	}
}

// NewFileLogger opens the active file and resumes the chain from its last
// record.
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	l := &FileLogger{
		dir:      config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		now:      time.Now,
	}
	if l.maxSize <= 0 {
		l.maxSize = 100 << 20
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 10
	}

	if err := l.resume(); err != nil {
		return nil, err
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) activePath() string {
	return filepath.Join(l.dir, currentFile)
}

// resume loads seq and hash of the newest record, looking at the active file
// first and then the newest rotated one.
func (l *FileLogger) resume() error {
	candidates := []string{l.activePath()}
	if rotated, err := l.rotated(); err == nil && len(rotated) > 0 {
		candidates = append(candidates, rotated[len(rotated)-1])
	}
	for _, path := range candidates {
		rec, err := lastRecord(path)
		if err != nil {
			return err
		}
		if rec != nil {
			l.seq, l.last = rec.Seq, rec.Hash
			return nil
		}
	}
	return nil
}

func lastRecord(path string) (*fileRecord, error) {
	var last *fileRecord
	err := scanRecords(path, func(rec *fileRecord) error {
		last = rec
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return last, err
}

func scanRecords(path string, fn func(*fileRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("failed to decode audit record in %s: %w", filepath.Base(path), err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (l *FileLogger) open() error {
	path := l.activePath()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	l.file, l.size = file, info.Size()
	return nil
}

func (l *FileLogger) rotated() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, rotatedGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (l *FileLogger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	l.file = nil

	name := fmt.Sprintf("audit-%s.ndjson", l.now().UTC().Format(rotatedLayout))
	if err := os.Rename(l.activePath(), filepath.Join(l.dir, name)); err != nil {
		return fmt.Errorf("failed to rename audit log file: %w", err)
	}
	if err := l.prune(); err != nil {
		return err
	}
	return l.open()
}

// prune keeps the newest maxFiles rotated files
func (l *FileLogger) prune() error {
	files, err := l.rotated()
	if err != nil || len(files) <= l.maxFiles {
		return err
	}
	for _, file := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove old audit log %s: %w", file, err)
		}
	}
	return nil
}

// Log appends event as the next record of the chain
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log file is closed: %w", ErrAuditWriteFailure)
	}
	if l.rotate && l.size >= l.maxSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	rec := fileRecord{Seq: l.seq + 1, Prev: l.last, Hash: chainHash(l.last, payload), Event: payload}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	n, err := l.file.Write(append(line, '\n'))
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	l.seq, l.last = rec.Seq, rec.Hash
	return nil
}

// Close closes the active file. Further Log calls fail.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// ReadLogs returns up to count events from the active file. Zero reads all.
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	var events []*AuditEvent
	stop := errors.New("stop")
	err := scanRecords(l.activePath(), func(rec *fileRecord) error {
		var event AuditEvent
		if err := json.Unmarshal(rec.Event, &event); err != nil {
			return fmt.Errorf("failed to decode audit event %d: %w", rec.Seq, err)
		}
		events = append(events, &event)
		if count > 0 && len(events) >= count {
			return stop
		}
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return events, nil
}

// VerifyFile checks the chain inside one file and returns the number of
// records. The first record is trusted as the anchor since its predecessor
// may have been pruned.
func VerifyFile(path string) (int, error) {
	var (
		n    int
		prev *fileRecord
	)
	err := scanRecords(path, func(rec *fileRecord) error {
		if chainHash(rec.Prev, rec.Event) != rec.Hash {
			return fmt.Errorf("record %d hash mismatch: %w", rec.Seq, ErrChainBroken)
		}
		if prev != nil && (rec.Prev != prev.Hash || rec.Seq != prev.Seq+1) {
			return fmt.Errorf("record %d does not follow %d: %w", rec.Seq, prev.Seq, ErrChainBroken)
		}
		prev = rec
		n++
		return nil
	})
	return n, err
}
