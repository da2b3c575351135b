// Package audit persists audit events as JSON Lines files with daily and
// size-based rotation plus retention cleanup. It is the durable complement
// to the in-memory trail; queries stay in memory, files are for operators.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sqlward/sqlward/internal/domain/audit"
)

// archiveFilePattern matches archive filenames: audit-YYYY-MM-DD.log or
// audit-YYYY-MM-DD-N.log for size-rotated files.
var archiveFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// ArchiveConfig configures the file archive.
type ArchiveConfig struct {
	// Dir is the directory archive files are written to.
	Dir string
	// RetentionDays is how long rotated files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB triggers size rotation (default 100).
	MaxFileSizeMB int
}

// Archive appends audit events to rotating JSONL files.
type Archive struct {
	mu            sync.Mutex
	dir           string
	maxFileSize   int64
	retentionDays int
	current       *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	logger        *slog.Logger
	cancel        context.CancelFunc
	closed        bool
}

// NewArchive opens (creating if needed) the archive directory, opens
// today's file, runs retention cleanup, and starts the hourly cleanup loop.
func NewArchive(cfg ArchiveConfig, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Archive{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := a.openCurrentLocked(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open archive file: %w", err)
	}

	a.cleanup()
	go a.cleanupLoop(ctx)

	return a, nil
}

// Write appends one event as a JSON line, rotating by date and size as
// needed. Intended as the trail's write-through sink.
func (a *Archive) Write(event audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("archive is closed")
	}

	date := event.Timestamp.UTC().Format("2006-01-02")
	if date != a.currentDate {
		if err := a.rotateDateLocked(date); err != nil {
			return fmt.Errorf("date rotation: %w", err)
		}
	}
	if a.currentSize >= a.maxFileSize {
		if err := a.rotateSizeLocked(); err != nil {
			return fmt.Errorf("size rotation: %w", err)
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	n, err := a.current.Write(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	a.currentSize += int64(n)
	return nil
}

// Flush syncs the current file to disk.
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		return a.current.Sync()
	}
	return nil
}

// Close stops the cleanup loop and closes the current file. Idempotent.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.cancel()

	if a.current != nil {
		_ = a.current.Sync()
		err := a.current.Close()
		a.current = nil
		return err
	}
	return nil
}

func (a *Archive) openCurrentLocked(date string) error {
	suffix := a.highestSuffix(date)
	f, size, err := a.openFile(date, suffix)
	if err != nil {
		return err
	}
	a.current = f
	a.currentDate = date
	a.currentSize = size
	a.currentSuffix = suffix
	return nil
}

// highestSuffix returns the highest existing rotation suffix for a date.
func (a *Archive) highestSuffix(date string) int {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		d, suffix, ok := parseArchiveFilename(e.Name())
		if ok && d == date && suffix > highest {
			highest = suffix
		}
	}
	return highest
}

func (a *Archive) openFile(date string, suffix int) (*os.File, int64, error) {
	path := filepath.Join(a.dir, archiveFilename(date, suffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}

func (a *Archive) rotateDateLocked(date string) error {
	if a.current != nil {
		_ = a.current.Sync()
		_ = a.current.Close()
		a.current = nil
	}
	a.currentSuffix = 0
	a.currentSize = 0
	a.currentDate = date

	f, size, err := a.openFile(date, 0)
	if err != nil {
		return err
	}
	a.current = f
	a.currentSize = size
	return nil
}

func (a *Archive) rotateSizeLocked() error {
	if a.current != nil {
		_ = a.current.Sync()
		_ = a.current.Close()
		a.current = nil
	}
	a.currentSuffix++
	a.currentSize = 0

	f, size, err := a.openFile(a.currentDate, a.currentSuffix)
	if err != nil {
		return err
	}
	a.current = f
	a.currentSize = size
	return nil
}

// cleanup deletes archive files older than the retention window.
func (a *Archive) cleanup() {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		a.logger.Error("archive cleanup failed to read directory", "dir", a.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)
	deleted := 0
	for _, e := range entries {
		date, _, ok := parseArchiveFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", date)
		if err != nil || !fileDate.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, e.Name())); err != nil {
			a.logger.Error("archive cleanup failed to delete file", "file", e.Name(), "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		a.logger.Info("archive cleanup completed", "deleted", deleted)
	}
}

func (a *Archive) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cleanup()
		}
	}
}

func archiveFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", date)
	}
	return fmt.Sprintf("audit-%s-%d.log", date, suffix)
}

// parseArchiveFilename extracts the date and rotation suffix from an
// archive filename.
func parseArchiveFilename(name string) (date string, suffix int, ok bool) {
	matches := archiveFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return "", 0, false
	}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return "", 0, false
		}
		suffix = n
	}
	return matches[1], suffix, true
}
