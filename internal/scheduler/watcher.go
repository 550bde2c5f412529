package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nninov/ngt/internal/domain"
	"github.com/rs/zerolog"
)

// HandlerFunc processes one dropped file. Handlers that consume the file
// (the correction processor archives it itself) leave nothing behind;
// otherwise the watcher archives it after a successful run.
type HandlerFunc func(path string) error

// WatchJob polls one drop directory and hands new files to a handler.
// Subdirectories and editor lock files are skipped. A failed file stays in
// place and is retried on the next poll.
type WatchJob struct {
	name    string
	dir     string
	handler HandlerFunc
	log     zerolog.Logger
}

// NewWatchJob creates a directory watcher job.
func NewWatchJob(name, dir string, handler HandlerFunc, log zerolog.Logger) *WatchJob {
	return &WatchJob{
		name:    name,
		dir:     dir,
		handler: handler,
		log:     log.With().Str("job", name).Str("dir", dir).Logger(),
	}
}

// Name returns the job name.
func (j *WatchJob) Name() string { return j.name }

// Run processes every eligible file currently in the directory.
func (j *WatchJob) Run() error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure watch dir: %w", err)
	}

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return fmt.Errorf("failed to read watch dir %s: %w", j.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || skipFile(entry.Name()) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())

		j.log.Info().Str("file", entry.Name()).Msg("Processing dropped file")
		if err := j.handler(path); err != nil {
			j.log.Error().Err(err).Str("file", entry.Name()).Msg("Failed to process file, will retry")
			continue
		}

		if _, err := os.Stat(path); err == nil {
			if err := archiveFile(path); err != nil {
				return err
			}
		}
	}
	return nil
}

// skipFile filters editor lock files and hidden files out of the poll.
func skipFile(name string) bool {
	return strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".")
}

// archiveFile moves a consumed file into the completed/ subfolder next to it.
func archiveFile(path string) error {
	dir := filepath.Join(filepath.Dir(path), "completed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}

var fileDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// FileDate extracts the drop date stamped in a source file name, falling
// back to today when the name carries none.
func FileDate(path string, now time.Time) time.Time {
	if m := fileDatePattern.FindString(filepath.Base(path)); m != "" {
		if t, err := time.Parse(domain.DateFormat, m); err == nil {
			return t
		}
	}
	return now
}
