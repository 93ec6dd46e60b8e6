// Package inbox watches a directory for WAV clips and submits each one to
// the conversation as a voice message.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bosley/voxchat/audio"
)

const defaultQueueSize = 100

// Submitter is the part of the conversation controller the inbox drives.
type Submitter interface {
	WaitIdle(ctx context.Context) error
	SubmitClip(ctx context.Context, clip audio.Clip) error
}

type Config struct {
	// Dir is created if it does not exist.
	Dir       string
	QueueSize int
}

// Job is one clip file waiting to be submitted.
type Job struct {
	FilePath  string
	Timestamp time.Time
}

type Inbox struct {
	config  Config
	target  Submitter
	watcher *fsnotify.Watcher

	queue  chan Job
	worker sync.WaitGroup

	// processed is called after each job; tests use it to synchronize.
	processed func(Job, error)
}

func New(cfg Config, target Submitter) (*Inbox, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("inbox directory not set")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(cfg.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Dir, err)
	}

	return &Inbox{
		config:  cfg,
		target:  target,
		watcher: watcher,
		queue:   make(chan Job, cfg.QueueSize),
	}, nil
}

// Run watches the directory and submits clips until ctx is cancelled.
// Clips are submitted one at a time, each after the controller goes idle.
func (in *Inbox) Run(ctx context.Context) error {
	slog.Info("Watching inbox", "path", in.config.Dir)

	in.worker.Add(1)
	go in.work(ctx)

	in.watch(ctx)

	close(in.queue)
	in.worker.Wait()

	if err := in.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}
