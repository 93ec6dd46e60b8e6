package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bosley/voxchat/audio"
	"github.com/bosley/voxchat/chat"
)

func (in *Inbox) work(ctx context.Context) {
	slog.Debug("Inbox worker starting")
	defer func() {
		slog.Debug("Inbox worker shutting down")
		in.worker.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case job, ok := <-in.queue:
			if !ok {
				return
			}

			err := in.processJob(ctx, job)
			if err != nil && ctx.Err() == nil {
				slog.Error("Failed to submit clip",
					"error", err,
					"file", job.FilePath)
			}
			if in.processed != nil {
				in.processed(job, err)
			}
		}
	}
}

func (in *Inbox) processJob(ctx context.Context, job Job) error {
	data, err := os.ReadFile(job.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("Clip disappeared before processing", "file", job.FilePath)
			return nil
		}
		return fmt.Errorf("failed to read clip: %w", err)
	}

	info, err := audio.Inspect(data)
	if err != nil {
		return fmt.Errorf("failed to inspect clip: %w", err)
	}

	clip := audio.Clip{Data: data, MediaType: audio.MediaTypeWAV}

	// Another surface can take the controller between WaitIdle and
	// SubmitClip, so loop until the clip is admitted.
	for {
		if err := in.target.WaitIdle(ctx); err != nil {
			return err
		}
		err := in.target.SubmitClip(ctx, clip)
		if errors.Is(err, chat.ErrBusy) {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	slog.Info("Submitted clip",
		"file", filepath.Base(job.FilePath),
		"duration", audio.FormatClock(info.Duration))
	return nil
}
