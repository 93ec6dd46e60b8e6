package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

func (in *Inbox) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if err := in.handleFSEvent(event); err != nil {
				slog.Error("Failed to handle file system event",
					"error", err,
					"event", event)
			}

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

// accepts reports whether name looks like a finished clip.
func accepts(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return strings.HasSuffix(base, ".wav")
}

func (in *Inbox) handleFSEvent(event fsnotify.Event) error {
	// Writers create the clip under a .tmp name and rename it into place,
	// which arrives here as a Create for the final name.
	if !event.Has(fsnotify.Create) || !accepts(event.Name) {
		return nil
	}

	job := Job{
		FilePath:  event.Name,
		Timestamp: time.Now(),
	}

	select {
	case in.queue <- job:
		slog.Info("Queued clip", "file", filepath.Base(event.Name))
	default:
		return fmt.Errorf("job queue is full")
	}
	return nil
}
