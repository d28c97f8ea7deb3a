package sqlite

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watcher turns writes to the database file or its WAL into version polls.
type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

// ensureWatcher starts watching the database directory once. A failure to
// watch is logged and leaves cross-process detection disabled; commits
// through this Engine still notify.
func (db *database) ensureWatcher() {
	db.watchMu.Lock()
	defer db.watchMu.Unlock()
	if db.watch != nil {
		return
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		db.log.Warn("file watcher unavailable", "engine", engineName, "path", db.path, "error", err)
		return
	}
	if err := fsw.Add(filepath.Dir(db.path)); err != nil {
		fsw.Close()
		db.log.Warn("file watcher unavailable", "engine", engineName, "path", db.path, "error", err)
		return
	}

	w := &watcher{fs: fsw, done: make(chan struct{})}
	db.watch = w
	go db.watchLoop(w)
}

func (db *database) watchLoop(w *watcher) {
	defer close(w.done)

	base := filepath.Base(db.path)
	names := map[string]bool{base: true, base + "-wal": true}

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !names[filepath.Base(ev.Name)] || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			db.poll()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			db.log.Warn("file watcher error", "engine", engineName, "path", db.path, "error", err)
		}
	}
}

// poll reads the committed version and notifies listeners if it is new.
func (db *database) poll() {
	db.announceMu.Lock()
	var version uint64
	err := db.sql.QueryRowContext(context.Background(), "SELECT version FROM realm_meta WHERE id = 1").Scan(&version)
	if err != nil {
		db.announceMu.Unlock()
		db.log.Debug("poll version", "engine", engineName, "path", db.path, "error", err)
		return
	}
	fresh := db.observed(version)
	db.announceMu.Unlock()
	if !fresh {
		return
	}
	db.log.Debug("external commit", "engine", engineName, "path", db.path, "version", version)
	db.listeners.Notify(0, db.versionID(version))
}

func (w *watcher) close() {
	w.fs.Close()
	<-w.done
}
