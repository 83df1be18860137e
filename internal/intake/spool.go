package intake

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/logging"
)

// SpoolOptions configures a Spool.
type SpoolOptions struct {
	// FromStart reads lines already in the file. Otherwise following
	// starts at the current end.
	FromStart bool
	// PollInterval is the stat fallback for filesystems where fsnotify
	// misses writes.
	PollInterval time.Duration
}

// DefaultSpoolOptions returns default spool options.
func DefaultSpoolOptions() *SpoolOptions {
	return &SpoolOptions{PollInterval: 250 * time.Millisecond}
}

// Spool follows a transcript file that an external writer appends to, one
// report per line. It survives rotation by rename and copytruncate, and the
// file may not exist yet when following starts.
type Spool struct {
	path    string
	opts    SpoolOptions
	watcher *fsnotify.Watcher

	file   *os.File
	reader *bufio.Reader
	info   os.FileInfo
	offset int64
	// partial holds bytes of a line whose newline has not been written yet.
	partial strings.Builder
}

// NewSpool creates a spool for path. The parent directory must exist.
func NewSpool(path string, opts *SpoolOptions) (*Spool, error) {
	if opts == nil {
		opts = DefaultSpoolOptions()
	}
	o := *opts
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve spool path", goerr.V("path", path))
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create watcher")
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()
		return nil, goerr.Wrap(err, "failed to watch spool directory", goerr.V("path", absPath))
	}

	return &Spool{path: absPath, opts: o, watcher: fw}, nil
}

// Path returns the absolute spool path.
func (s *Spool) Path() string { return s.path }

// Run calls emit for every complete line until ctx is cancelled. Lines are
// emitted in file order on the calling goroutine.
func (s *Spool) Run(ctx context.Context, emit func(line string)) error {
	defer s.closeFile()
	logger := logging.From(ctx)

	if err := s.open(!s.opts.FromStart); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.read(emit)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != s.path {
				continue
			}
			if ev.Has(fsnotify.Create) {
				s.reopen(logger)
			}
			s.read(emit)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("spool watcher error", "path", s.path, logging.ErrAttr(err))
		case <-ticker.C:
			s.poll(logger)
			s.read(emit)
		}
	}
}

// Close stops the file watcher. Run returns once it notices.
func (s *Spool) Close() error {
	return s.watcher.Close()
}

// open opens the spool file, optionally positioned at its end.
func (s *Spool) open(atEnd bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return goerr.Wrap(err, "failed to stat spool", goerr.V("path", s.path))
	}

	var offset int64
	if atEnd {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return goerr.Wrap(err, "failed to seek spool", goerr.V("path", s.path))
		}
	}

	s.closeFile()
	s.file = f
	s.reader = bufio.NewReader(f)
	s.info = info
	s.offset = offset
	s.partial.Reset()
	return nil
}

// reopen switches to a new file at the spool path, read from the start.
func (s *Spool) reopen(logger *slog.Logger) {
	if err := s.open(false); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to reopen spool", "path", s.path, logging.ErrAttr(err))
	}
}

// poll detects files created, replaced, or truncated without an event.
func (s *Spool) poll(logger *slog.Logger) {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	switch {
	case s.file == nil:
		s.reopen(logger)
	case !os.SameFile(info, s.info):
		// Rotated by rename; the old file is finished.
		s.reopen(logger)
	case info.Size() < s.offset:
		// Truncated in place.
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			logger.Warn("failed to rewind truncated spool", "path", s.path, logging.ErrAttr(err))
			return
		}
		s.reader.Reset(s.file)
		s.offset = 0
		s.partial.Reset()
	}
}

func (s *Spool) read(emit func(string)) {
	if s.reader == nil {
		return
	}
	for {
		chunk, err := s.reader.ReadString('\n')
		s.offset += int64(len(chunk))
		if err != nil {
			// EOF mid-line: keep the fragment until the writer finishes it.
			s.partial.WriteString(chunk)
			return
		}

		s.partial.WriteString(chunk)
		line := strings.TrimRight(s.partial.String(), "\r\n")
		s.partial.Reset()
		emit(line)
	}
}

func (s *Spool) closeFile() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
		s.reader = nil
	}
}
