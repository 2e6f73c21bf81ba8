package indexer

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch rescans BaseDir whenever a file is created, removed or renamed
// underneath it, so new projects dropped into a running server are picked
// up without a restart. It runs until stopCh is closed.
//
// Grounded on mevdschee/tqserver's supervisor.go, which uses fsnotify to
// detect new worker scripts appearing on disk.
func (ix *Indexer) Watch(stopCh <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, ix.baseDir); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if _, err := ix.Scan(); err != nil {
				ix.logger.Warn().Err(err).Msg("rescan after filesystem event failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn().Err(err).Msg("fsnotify watcher error")
		case <-stopCh:
			return nil
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
