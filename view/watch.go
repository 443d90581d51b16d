package view

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// flushDelay groups the several writes editors make for one save.
const flushDelay = 25 * time.Millisecond

// Watch invalidates the cache whenever a file under dir changes. It blocks
// until ctx is done.
func (v *Renderer) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("view: fsnotify: %w", err)
	}
	defer w.Close()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("view: watch %s: %w", dir, err)
	}
	v.log.Info("watching templates", zap.String("dir", dir))

	timer := time.NewTimer(flushDelay)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			v.log.Warn("template watcher error", zap.Error(err))
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(e.Name)
			if len(base) > 0 && base[0] == '.' {
				continue
			}
			if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) || e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
				timer.Reset(flushDelay)
			}
		case <-timer.C:
			v.Invalidate()
			v.log.Debug("templates reloaded")
		}
	}
}
