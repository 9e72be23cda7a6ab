// Package tailer incrementally reads a continuously appended log file,
// emitting parsed line events as they arrive. It survives the file not
// existing yet, rotation, and truncation, and checkpoints its byte offset so
// a restart resumes without reprocessing already-emitted lines.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/onnwee/factorio-relay/telemetry"
)

// Line is one complete log line. Offset is the byte position of the line
// start within the current file incarnation.
type Line struct {
	Text   string
	Offset int64
	Time   time.Time
}

// Checkpoint persists the offset of the last fully consumed line.
type Checkpoint interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, offset int64) error
}

// Tailer follows one file path through a small state machine: seeking (the
// path does not exist yet) and following (reading appended bytes). Rotation
// is detected by file identity change or by the size shrinking below the
// current offset; either resets the offset to zero. Events written in the
// narrow race window around a rotation may be missed; the rotation counter
// makes that observable.
type Tailer struct {
	path       string
	poll       time.Duration
	checkpoint Checkpoint
	logger     *slog.Logger
	lines      chan Line

	offset    atomic.Int64 // offset after the last emitted complete line
	lastSaved int64        // last offset persisted to the checkpoint; run goroutine only
	file      *os.File
	info      fs.FileInfo // identity marker of the followed file
	partial   []byte      // trailing bytes with no newline yet
}

// New creates a tailer for path. poll bounds the latency of noticing changes
// when file-system notifications are unavailable.
func New(path string, poll time.Duration, cp Checkpoint) *Tailer {
	if poll <= 0 {
		poll = time.Second
	}
	return &Tailer{
		path:       path,
		poll:       poll,
		checkpoint: cp,
		logger:     slog.Default().With(slog.String("component", "tailer")),
		lines:      make(chan Line, 64),
	}
}

// Lines returns the channel of emitted lines. Closed when Run returns.
func (t *Tailer) Lines() <-chan Line { return t.lines }

// Offset returns the checkpointable offset (after the last complete line).
func (t *Tailer) Offset() int64 { return t.offset.Load() }

// Run drives the tailer until ctx is canceled. The checkpoint is flushed
// before returning so the next start does not reprocess emitted lines.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.lines)
	defer t.closeFile()

	if t.checkpoint != nil {
		off, err := t.checkpoint.Load(ctx)
		if err != nil {
			t.logger.Warn("checkpoint load failed, starting from zero", slog.Any("err", err))
		} else {
			t.offset.Store(off)
			t.lastSaved = off
		}
	}

	// File-system notifications cut poll latency; polling remains as the
	// correctness backstop (notifications can drop on some platforms).
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("fsnotify unavailable, falling back to polling", slog.Any("err", err))
		watcher = nil
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			t.logger.Warn("cannot watch log directory, falling back to polling", slog.Any("err", err))
		}
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		if err := t.step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			t.logger.Warn("tail step failed", slog.Any("err", err))
		}
		// Persist after every batch of emitted lines, not just at shutdown,
		// so a crash reprocesses at most the lines emitted since this step.
		t.flush(ctx)

		select {
		case <-ctx.Done():
			t.flush(ctx)
			return nil
		case <-ticker.C:
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				watcher = nil
			}
			_ = ev
		case err, ok := <-watcherErrors(watcher):
			if ok && err != nil {
				t.logger.Debug("fsnotify error", slog.Any("err", err))
			}
		}
	}
	t.flush(ctx)
	return nil
}

// watcherEvents/watcherErrors return nil channels for a nil watcher so the
// select above degrades to pure polling.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}

// step advances the state machine once: open the file if needed, detect
// rotation, read and emit any new complete lines.
func (t *Tailer) step(ctx context.Context) error {
	st, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			// seeking: the server may simply not have started yet.
			if t.file != nil {
				t.logger.Info("log file disappeared, waiting for it to return")
				t.handleRotation()
			}
			return nil
		}
		return err
	}

	if t.file == nil {
		if err := t.openFile(st); err != nil {
			return err
		}
	} else if !os.SameFile(t.info, st) {
		t.logger.Info("log file rotated, restarting from new file")
		t.handleRotation()
		if err := t.openFile(st); err != nil {
			return err
		}
	} else if st.Size() < t.offset.Load() {
		t.logger.Info("log file truncated, restarting from zero",
			slog.Int64("size", st.Size()), slog.Int64("offset", t.offset.Load()))
		telemetry.LogRotations.Inc()
		t.partial = nil
		t.offset.Store(0)
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	return t.readNew(ctx)
}

// openFile opens the current incarnation of the path and positions at the
// checkpointed offset, or at zero when the file is shorter than the
// checkpoint (rotation happened while we were not running).
func (t *Tailer) openFile(st fs.FileInfo) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	off := t.offset.Load()
	if st.Size() < off {
		telemetry.LogRotations.Inc()
		off = 0
		t.offset.Store(0)
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	t.file = f
	t.info = st
	t.partial = nil
	t.logger.Info("following log file", slog.String("path", t.path), slog.Int64("offset", off))
	return nil
}

func (t *Tailer) handleRotation() {
	telemetry.LogRotations.Inc()
	t.closeFile()
	t.partial = nil
	t.offset.Store(0)
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
		t.info = nil
	}
}

// readNew reads from the current position to EOF and emits complete lines.
// A trailing partial line is held back; the offset only ever advances past
// emitted newline-terminated lines so a restart re-reads the partial.
func (t *Tailer) readNew(ctx context.Context) error {
	if t.file == nil {
		return nil
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := t.file.Read(buf)
		if n > 0 {
			t.partial = append(t.partial, buf[:n]...)
			if emitErr := t.emitLines(ctx); emitErr != nil {
				return emitErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (t *Tailer) emitLines(ctx context.Context) error {
	now := time.Now()
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			return nil
		}
		lineStart := t.offset.Load()
		text := string(bytes.TrimRight(t.partial[:i], "\r"))
		t.partial = t.partial[i+1:]
		t.offset.Store(lineStart + int64(i) + 1)
		telemetry.SetTailOffset(t.offset.Load())

		if text == "" {
			continue
		}
		telemetry.LogLinesRead.Inc()
		select {
		case t.lines <- Line{Text: text, Offset: lineStart, Time: now}:
		case <-ctx.Done():
			return context.Canceled
		}
	}
}

// flush persists the checkpoint when the offset advanced since the last save.
// Called after every step and again on shutdown.
func (t *Tailer) flush(ctx context.Context) {
	if t.checkpoint == nil {
		return
	}
	off := t.offset.Load()
	if off == t.lastSaved {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := t.checkpoint.Save(ctx, off); err != nil {
		t.logger.Error("checkpoint save failed", slog.Any("err", err))
		return
	}
	t.lastSaved = off
}
