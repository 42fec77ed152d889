package rubric

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Holder serves the current rubric and swaps it when the backing file changes.
type Holder struct {
	cur atomic.Pointer[Rubric]
}

func NewHolder(r *Rubric) *Holder {
	h := &Holder{}
	h.cur.Store(r)
	return h
}

func (h *Holder) Current() *Rubric { return h.cur.Load() }

func (h *Holder) Set(r *Rubric) { h.cur.Store(r) }

// Watch reloads path whenever it is written or replaced, until ctx is done. The
// parent directory is watched because editors usually save by rename. A file that
// fails to load leaves the previous rubric in place.
func (h *Holder) Watch(ctx context.Context, path string, logger logrus.FieldLogger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log := logger.WithField("rubric", abs)
	log.Info("watching rubric for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			r, err := Load(abs)
			if err != nil {
				log.WithError(err).Warn("rubric reload failed, keeping previous version")
				continue
			}
			h.Set(r)
			log.WithField("version", r.Version).Info("rubric reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("rubric watcher error")
		}
	}
}
