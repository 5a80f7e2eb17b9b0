package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes on disk and invokes onChange with
// the freshly parsed Config. It runs until stop is closed. Grounded in the
// hazyhaar-GoClode example repo's Engine.WatchFile, which wires the same
// fsnotify.Watcher to a reload callback for its own SQLite config table.
func Watch(path string, onChange func(*Config), stop <-chan struct{}, log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
