package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/middleware/admission"
)

// watchBlocklist keeps the admission filter in sync with the blocklist file.
// Returns nil when no file is configured.
func watchBlocklist(cfg *config.Config, adm *admission.Admission) *fsnotify.Watcher {
	if cfg.BlocklistFile == "" {
		return nil
	}

	reloadBlocklist(cfg, adm)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zlog.Error("Blocklist watcher failed", "error", err.Error())
		return nil
	}

	// watch the directory, editors replace the file on save
	if err := watcher.Add(filepath.Dir(cfg.BlocklistFile)); err != nil {
		zlog.Error("Blocklist watch failed", "file", cfg.BlocklistFile, "error", err.Error())
		_ = watcher.Close()

		return nil
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		name := filepath.Base(cfg.BlocklistFile)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Base(event.Name) == name {
					zlog.Debug("Blocklist file event", "event", event.String())
					reloadBlocklist(cfg, adm)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zlog.Error("Blocklist watcher error", "error", err.Error())

			case <-ticker.C:
				reloadBlocklist(cfg, adm)
			}
		}
	}()

	return watcher
}

func reloadBlocklist(cfg *config.Config, adm *admission.Admission) {
	entries := append([]string(nil), cfg.Blocklist...)

	file, err := os.Open(cfg.BlocklistFile)
	if err != nil {
		if !os.IsNotExist(err) {
			zlog.Error("Blocklist read failed", "file", cfg.BlocklistFile, "error", err.Error())
		}

		adm.Reload(entries)

		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entries = append(entries, line)
	}

	adm.Reload(entries)

	zlog.Info("Blocklist reloaded", "file", cfg.BlocklistFile, "entries", len(entries))
}
