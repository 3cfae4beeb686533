// Package watchdir watches a directory tree for archives that are ready
// to be indexed and hands their pathnames to its client.
//
// An archive is ready when it's closed after writing or moved into the
// tree.  Archives that became ready while nobody was watching (e.g.,
// before the program started) are found by a periodic scan once they
// are older than the missed age.  Each archive is handed out once until
// the client acknowledges it.
package watchdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rjeczalik/notify"
)

// WatchEvent is the message that is passed through the watch channel.
type WatchEvent struct {
	Path   string // archive pathname
	Missed bool   // true if found by a scan instead of an event
}

// WatchDirClient is what clients of a directory watcher use.  Tests
// implement it to drive watch events themselves.
type WatchDirClient interface { //nolint:revive
	WatchChan() chan WatchEvent
	WatchAckChan() chan<- []string
	WatchAndNotify(ctx context.Context) error
}

// WatchDir watches a directory tree for archives.
type WatchDir struct {
	root        string              // top of the watched tree
	suffixes    []string            // archive filename suffixes (empty means all files)
	events      []notify.Event      // events that make an archive ready
	watchChan   chan WatchEvent     // ready archives go to the client through this channel
	ackChan     chan []string       // the client acknowledges archives it's done with through this channel
	missedAge   time.Duration       // minimum age of an archive before a scan picks it up
	scanEvery   time.Duration       // interval between scans for missed archives
	pending     map[string]struct{} // archives handed out but not acknowledged
	pendingLock sync.Mutex
}

const (
	// Sized for a burst of archives being moved into the tree at once.
	watchChanSize = 10000
	notifyBufSize = 10000
)

var (
	// AllWatchEvents is the list of all possible events to watch for.
	AllWatchEvents = []notify.Event{
		notify.InAccess,
		notify.InModify,
		notify.InAttrib,
		notify.InCloseWrite,
		notify.InCloseNowrite,
		notify.InOpen,
		notify.InMovedFrom,
		notify.InMovedTo,
		notify.InCreate,
		notify.InDelete,
		notify.InDeleteSelf,
		notify.InMoveSelf,
	}
	knownEvents = func() map[notify.Event]bool {
		m := make(map[notify.Event]bool, len(AllWatchEvents))
		for _, e := range AllWatchEvents {
			m[e] = true
		}
		return m
	}()

	errUnrecognizedEvent = errors.New("unrecognized event")
	errNotifyWatch       = errors.New("failed to start notify.Watch")

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warcindex_watch_notifications_total",
			Help: "The number of archives handed out for indexing, by how they were found.",
		},
		[]string{"source"},
	)

	// Testing and debugging support.
	vFunc     = func(fmt string, args ...interface{}) {}
	vFuncLock sync.Mutex
)

// Verbose prints verbose messages if initialized by the caller.
func Verbose(v func(string, ...interface{})) {
	vFuncLock.Lock()
	vFunc = v
	vFuncLock.Unlock()
}

func verbose(fmt string, args ...interface{}) {
	vFuncLock.Lock()
	vFunc(fmt, args...)
	vFuncLock.Unlock()
}

// New returns a watcher of the tree rooted at root.  suffixes are
// matched against the end of filenames, so ".warc.gz" works as expected.
// An empty events list means all events.
func New(root string, suffixes []string, events []notify.Event, missedAge, scanEvery time.Duration) (*WatchDir, error) {
	if len(events) == 0 {
		events = AllWatchEvents
	}
	for _, e := range events {
		if !knownEvents[e] {
			return nil, fmt.Errorf("%v: %w", e, errUnrecognizedEvent)
		}
	}
	wd := &WatchDir{
		root:        filepath.Clean(root),
		suffixes:    append([]string{}, suffixes...),
		events:      events,
		watchChan:   make(chan WatchEvent, watchChanSize),
		ackChan:     make(chan []string, watchChanSize),
		missedAge:   missedAge,
		scanEvery:   scanEvery,
		pending:     make(map[string]struct{}),
		pendingLock: sync.Mutex{},
	}
	return wd, nil
}

// WatchChan returns the channel through which ready archives are sent
// to the client.
func (wd *WatchDir) WatchChan() chan WatchEvent {
	return wd.watchChan
}

// WatchAckChan returns the channel through which the client acknowledges
// archives it has processed.  An acknowledged archive can be handed out
// again if it becomes ready again.
func (wd *WatchDir) WatchAckChan() chan<- []string {
	return wd.ackChan
}

// WatchAndNotify watches the tree and hands out ready archives until
// ctx is canceled or one of its channels is closed.
func (wd *WatchDir) WatchAndNotify(ctx context.Context) error {
	go wd.scanPeriodically(ctx)

	verbose("watching %v for %v", wd.root, wd.suffixes)
	eiChan := make(chan notify.EventInfo, notifyBufSize)
	if err := notify.Watch(wd.root+"/...", eiChan, wd.events...); err != nil {
		return fmt.Errorf("%w: %v", errNotifyWatch, err)
	}
	defer notify.Stop(eiChan)
	for {
		select {
		case <-ctx.Done():
			verbose("'watch and notify' context canceled for %v", wd.root)
			return nil
		case ei, chOpen := <-eiChan:
			if !chOpen {
				verbose("event info channel closed")
				return nil
			}
			if !knownEvents[ei.Event()] {
				log.Printf("WARNING: ignoring unrecognized event %v for %v\n", ei, ei.Path())
				continue
			}
			if !wd.isArchive(ei.Path(), nil) {
				verbose("ignoring %v", ei.Path())
				continue
			}
			wd.handOut(WatchEvent{Path: ei.Path(), Missed: false})
		case paths, chOpen := <-wd.ackChan:
			if !chOpen {
				verbose("watch acknowledgement channel closed")
				return nil
			}
			wd.acknowledge(paths)
		}
	}
}

// acknowledge forgets the given archives so the pending map does not
// grow forever.
func (wd *WatchDir) acknowledge(paths []string) {
	wd.pendingLock.Lock()
	defer wd.pendingLock.Unlock()
	for _, path := range paths {
		if _, ok := wd.pending[path]; !ok {
			log.Panicf("acknowledged %v was never handed out", path)
		}
		delete(wd.pending, path)
	}
}

// scanPeriodically runs scanMissed every scan interval until ctx is
// canceled.
func (wd *WatchDir) scanPeriodically(ctx context.Context) {
	verbose("scanning %v every %v for missed archives", wd.root, wd.scanEvery)
	ticker := time.NewTicker(wd.scanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			verbose("'scan for missed' context canceled for %v", wd.root)
			return
		case now := <-ticker.C:
			if err := wd.scanMissed(now.Add(-wd.missedAge)); err != nil {
				// An archive may be removed by its producer while
				// the tree is being walked.
				log.Printf("WARNING: failed to walk directory %v: %v\n", wd.root, err)
			}
		}
	}
}

// scanMissed hands out every archive in the tree that was last modified
// before olderThan.
func (wd *WatchDir) scanMissed(olderThan time.Time) error {
	verbose("scanning %v for archives older than %v", wd.root, olderThan.Format(time.RFC3339))
	return filepath.WalkDir(wd.root, func(path string, d fs.DirEntry, err error) error { //nolint:wrapcheck
		if err != nil {
			return fmt.Errorf("failed to access path: %w", err)
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info: %w", err)
		}
		if wd.isArchive(path, fi) && fi.ModTime().Before(olderThan) {
			wd.handOut(WatchEvent{Path: path, Missed: true})
		}
		return nil
	})
}

// handOut sends the archive to the client unless it's already pending.
func (wd *WatchDir) handOut(we WatchEvent) {
	wd.pendingLock.Lock()
	if _, ok := wd.pending[we.Path]; ok {
		wd.pendingLock.Unlock()
		verbose("%v is already pending", we.Path)
		return
	}
	wd.pending[we.Path] = struct{}{}
	wd.pendingLock.Unlock()
	wd.watchChan <- we
	if we.Missed {
		notificationsTotal.WithLabelValues("scan").Inc()
	} else {
		notificationsTotal.WithLabelValues("event").Inc()
	}
	verbose("handed out %+v", we)
}

// isArchive returns true if path is a regular file with one of the
// watched suffixes.  Dot-files are partially written archives by
// convention and are never archives.
func (wd *WatchDir) isArchive(path string, fi os.FileInfo) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !wd.hasSuffix(base) {
		return false
	}
	if fi == nil {
		var err error
		if fi, err = os.Stat(path); err != nil {
			log.Printf("WARNING: failed to stat: %v\n", err)
			return false
		}
	}
	return fi.Mode().IsRegular()
}

func (wd *WatchDir) hasSuffix(name string) bool {
	if len(wd.suffixes) == 0 {
		return true
	}
	for _, suffix := range wd.suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
