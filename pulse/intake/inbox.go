package intake

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
	"github.com/teranos/compliq/pulse/async"
)

// Subdirectories of the inbox that receive handled request files
const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// DefaultDebounce is how long a request file must stay quiet before it is read
const DefaultDebounce = 250 * time.Millisecond

// Inbox watches a directory for request files and enqueues them.
// Accepted files move to processed/, unreadable ones to rejected/ with a
// sibling .error file explaining why.
type Inbox struct {
	dir      string
	queue    *async.Queue
	agents   am.AgentsConfig
	logger   *zap.SugaredLogger
	debounce time.Duration

	mu      sync.Mutex // serializes Process
	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// NewInbox prepares dir and its processed/ and rejected/ subdirectories
func NewInbox(dir string, queue *async.Queue, agents am.AgentsConfig, log *zap.SugaredLogger) (*Inbox, error) {
	if dir == "" {
		return nil, errors.NewInvalidRequestError("inbox directory is empty")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	for _, d := range []string{dir, filepath.Join(dir, ProcessedDir), filepath.Join(dir, RejectedDir)} {
		if err := os.MkdirAll(d, am.DefaultDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to create inbox directory %s", d)
		}
	}
	return &Inbox{
		dir:      dir,
		queue:    queue,
		agents:   agents,
		logger:   log.Named("intake"),
		debounce: DefaultDebounce,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Dir returns the watched directory
func (in *Inbox) Dir() string { return in.dir }

// Run picks up files already waiting, then watches for new ones until ctx is done
func (in *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	defer watcher.Close()

	// Watch before scanning so nothing lands in between unseen
	if err := watcher.Add(in.dir); err != nil {
		return errors.Wrapf(err, "failed to watch inbox %s", in.dir)
	}

	n, err := in.Scan()
	if err != nil {
		in.logger.Warnw("Inbox scan failed", logger.FieldError, err)
	} else if n > 0 {
		in.logger.Infow("Picked up waiting requests", logger.FieldCount, n)
	}
	in.logger.Infow("Watching inbox", "dir", in.dir)

	for {
		select {
		case <-ctx.Done():
			in.stopTimers()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Create covers files renamed into the inbox
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !IsRequestFile(event.Name) || filepath.Dir(event.Name) != filepath.Clean(in.dir) {
				continue
			}
			in.schedule(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warnw("Inbox watcher error", logger.FieldError, err)
		}
	}
}

// schedule debounces bursts of events for one file
func (in *Inbox) schedule(path string) {
	in.timerMu.Lock()
	defer in.timerMu.Unlock()

	if t, ok := in.timers[path]; ok {
		t.Stop()
	}
	in.timers[path] = time.AfterFunc(in.debounce, func() {
		in.timerMu.Lock()
		delete(in.timers, path)
		in.timerMu.Unlock()

		if err := in.Process(path); err != nil {
			in.logger.Warnw("Request rejected", logger.FieldFile, path, logger.FieldError, err)
		}
	})
}

func (in *Inbox) stopTimers() {
	in.timerMu.Lock()
	defer in.timerMu.Unlock()
	for path, t := range in.timers {
		t.Stop()
		delete(in.timers, path)
	}
}

// Scan processes every request file currently in the inbox and returns how many were handled
func (in *Inbox) Scan() (int, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read inbox %s", in.dir)
	}

	handled := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsRequestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(in.dir, entry.Name())
		if err := in.Process(path); err != nil {
			in.logger.Warnw("Request rejected", logger.FieldFile, path, logger.FieldError, err)
		}
		handled++
	}
	return handled, nil
}

// Process enqueues one request file and moves it out of the inbox.
// The returned error is the reason for rejection; the file has been moved either way.
func (in *Inbox) Process(path string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// Already handled by an earlier event
		return nil
	}

	req, err := LoadRequestFile(path)
	if err == nil {
		var job *async.Job
		job, err = Submit(in.queue, req, in.agents)
		if err == nil {
			in.logger.Infow("Request queued", logger.FieldFile, filepath.Base(path), logger.FieldJobID, job.ID)
			return in.move(path, ProcessedDir)
		}
	}

	if moveErr := in.move(path, RejectedDir); moveErr != nil {
		return errors.WithSecondaryError(err, moveErr)
	}
	reason := filepath.Join(in.dir, RejectedDir, filepath.Base(path)+".error")
	text := err.Error() + "\n"
	if details := errors.FlattenDetails(err); details != "" {
		text += details + "\n"
	}
	if writeErr := os.WriteFile(reason, []byte(text), am.DefaultFilePermissions); writeErr != nil {
		in.logger.Warnw("Failed to write rejection reason", logger.FieldFile, reason, logger.FieldError, writeErr)
	}
	return err
}

// move renames path into sub, suffixing the name when it is already taken
func (in *Inbox) move(path, sub string) error {
	base := filepath.Base(path)
	dest := filepath.Join(in.dir, sub, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		dest = filepath.Join(in.dir, sub, base[:len(base)-len(ext)]+"."+time.Now().Format("20060102T150405.000000000")+ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return errors.Wrapf(err, "failed to move %s to %s", base, sub)
	}
	return nil
}
