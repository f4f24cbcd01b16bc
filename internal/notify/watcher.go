// Package notify implements the activity drop-folder intake: wellness
// integrations write JSON event files into a watched directory, and the
// watcher feeds them into the memory engine as gameplay events. Files
// are renamed after processing so a restart never replays them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fernwright/questweaver/internal/memory"
	"github.com/fernwright/questweaver/pkg/types"
)

// settleDelay gives writers time to finish a file before it is read.
const settleDelay = 200 * time.Millisecond

// Watcher tails the drop folder for new event files.
type Watcher struct {
	dropPath string
	memory   *memory.Service
}

// NewWatcher creates a watcher over dropPath, creating the directory if
// needed.
func NewWatcher(dropPath string, mem *memory.Service) (*Watcher, error) {
	if err := os.MkdirAll(dropPath, 0o755); err != nil {
		return nil, fmt.Errorf("create drop path: %w", err)
	}
	return &Watcher{dropPath: dropPath, memory: mem}, nil
}

// Run processes existing files then watches for new ones until the
// context ends. Individual bad files are quarantined, not fatal.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.dropPath); err != nil {
		return fmt.Errorf("watch %s: %w", w.dropPath, err)
	}

	// Drain anything that arrived while we weren't running.
	if err := w.processExisting(ctx); err != nil {
		log.Printf("notify: process existing files: %v", err)
	}

	log.Printf("notify: watching %s", w.dropPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			time.Sleep(settleDelay)
			w.processFile(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (w *Watcher) processExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dropPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		w.processFile(ctx, filepath.Join(w.dropPath, entry.Name()))
	}
	return nil
}

// processFile ingests one event file. Success renames it .done, failure
// renames it .failed so a human can inspect it.
func (w *Watcher) processFile(ctx context.Context, path string) {
	event, err := readEventFile(path)
	if err != nil {
		log.Printf("notify: %s rejected: %v", filepath.Base(path), err)
		w.quarantine(path)
		return
	}

	if _, err := w.memory.RecordEvent(ctx, event); err != nil {
		log.Printf("notify: %s failed to record: %v", filepath.Base(path), err)
		w.quarantine(path)
		return
	}

	if err := os.Rename(path, path+".done"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("notify: archive %s: %v", filepath.Base(path), err)
	}
	log.Printf("notify: ingested %s (%s for %s)", filepath.Base(path), event.Type, event.SubjectID)
}

func (w *Watcher) quarantine(path string) {
	if err := os.Rename(path, path+".failed"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("notify: quarantine %s: %v", filepath.Base(path), err)
	}
}

func readEventFile(path string) (*types.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var event types.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("parse event json: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
