package profile

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Holder publishes the current profile to concurrent readers.
type Holder struct {
	v atomic.Pointer[Profile]
}

func NewHolder(p *Profile) *Holder {
	h := &Holder{}
	h.v.Store(p)
	return h
}

func (h *Holder) Get() *Profile { return h.v.Load() }

func (h *Holder) Set(p *Profile) { h.v.Store(p) }

const reloadDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes on disk and hands the result to
// apply. Editors often replace files by rename, so the parent directory is
// watched and events are filtered by name. A file that fails to parse is
// logged and the previous profile stays in effect. Watch blocks until ctx is
// done.
func Watch(ctx context.Context, path string, apply func(*Profile)) error {
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
		return err
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", abs).Msg("profile watcher error")
		case <-timer.C:
			p, err := Load(abs)
			if err != nil {
				log.Error().Err(err).Str("path", abs).Msg("profile reload failed")
				continue
			}
			log.Info().Str("path", abs).Str("active_schema", p.ActiveSchema).Msg("profile reloaded")
			apply(p)
		}
	}
}
