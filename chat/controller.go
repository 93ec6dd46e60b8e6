// Package chat owns the conversation: the transcript, the single in-flight
// request, the recording session and the normalization of assistant replies.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bosley/voxchat/audio"
	"github.com/bosley/voxchat/backend"
)

// Assistant is the backend the controller sends input to.
type Assistant interface {
	ProcessText(ctx context.Context, prompt string) (*backend.Response, error)
	ProcessVoice(ctx context.Context, clip audio.Clip) (*backend.Response, error)
}

// Capturer records one clip per Start/Stop pair. Stop must release the
// underlying device whether or not it returns an error.
type Capturer interface {
	Start(ctx context.Context) error
	Stop() (audio.Clip, error)
}

// SilenceNotifier is implemented by capturers that detect the end of speech.
// The returned channel belongs to the current recording.
type SilenceNotifier interface {
	Silence() <-chan struct{}
}

// Config is the only configuration surface of the controller.
type Config struct {
	BaseURL   string
	TextPath  string
	VoicePath string
	Timeout   time.Duration
}

type Option func(*Controller)

// WithAssistant replaces the HTTP backend built from Config.
func WithAssistant(a Assistant) Option {
	return func(c *Controller) { c.assistant = a }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

type recState int

const (
	recIdle recState = iota
	recStarting
	recActive
)

// Snapshot is a read-only view for rendering surfaces.
type Snapshot struct {
	Messages    []Message
	IsLoading   bool
	IsRecording bool
	// IsStarting is set while the capture device is being opened.
	IsStarting  bool
}

// Idle reports whether a new submission would be accepted.
func (s Snapshot) Idle() bool {
	return !s.IsLoading && !s.IsRecording && !s.IsStarting
}

type Controller struct {
	assistant  Assistant
	capturer   Capturer
	transcript *Transcript
	now        func() time.Time

	mu          sync.Mutex
	loading     bool
	rec         recState
	stopSession chan struct{}
	subscribers map[uuid.UUID]chan Snapshot
}

// New builds a controller against the backend described by cfg. capturer may
// be nil, in which case recording always fails with ErrCaptureDenied.
func New(cfg Config, capturer Capturer, opts ...Option) *Controller {
	c := &Controller{
		capturer:    capturer,
		transcript:  NewTranscript(),
		now:         time.Now,
		subscribers: make(map[uuid.UUID]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.assistant == nil {
		c.assistant = backend.New(backend.Config{
			BaseURL:   cfg.BaseURL,
			TextPath:  cfg.TextPath,
			VoicePath: cfg.VoicePath,
			Timeout:   cfg.Timeout,
		})
	}
	return c
}

// Transcript exposes the underlying append-only transcript.
func (c *Controller) Transcript() *Transcript {
	return c.transcript
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Messages:    c.transcript.Messages(),
		IsLoading:   c.loading,
		IsRecording: c.rec == recActive,
		IsStarting:  c.rec == recStarting,
	}
}

// SubmitText sends typed input to the text endpoint and blocks until the
// reply (or failure) is in the transcript. Blank input is ignored.
func (c *Controller) SubmitText(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	if err := c.admitText(input); err != nil {
		return err
	}
	c.sendText(ctx, input)
	return nil
}

// SubmitTextAsync admits input like SubmitText but returns as soon as the
// user message is in the transcript.
func (c *Controller) SubmitTextAsync(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	if err := c.admitText(input); err != nil {
		return err
	}
	go c.sendText(context.WithoutCancel(ctx), input)
	return nil
}

func (c *Controller) admitText(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading || c.rec != recIdle {
		return ErrBusy
	}
	c.transcript.Append(c.newMessage(RoleUser, input, func(m *Message) {
		m.Origin = OriginTyped
	}))
	c.loading = true
	c.notifyLocked()
	return nil
}

func (c *Controller) sendText(ctx context.Context, input string) {
	slog.Debug("Submitting text", "length", len(input))
	resp, err := c.assistant.ProcessText(ctx, input)
	c.settle(resp, err)
}

// StartRecording begins capture. A device failure leaves the session idle
// and is reported as an error message.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.loading || c.rec != recIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.rec = recStarting
	c.notifyLocked()
	c.mu.Unlock()

	var err error
	if c.capturer == nil {
		err = errors.New("no capture device configured")
	} else {
		err = c.capturer.Start(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.rec = recIdle
		slog.Error("Failed to start recording", "error", err)
		c.transcript.Append(c.errorMessage(fmt.Errorf("%w: %v", ErrCaptureDenied, err)))
		c.notifyLocked()
		return nil
	}

	c.rec = recActive
	c.stopSession = make(chan struct{})
	if sn, ok := c.capturer.(SilenceNotifier); ok {
		go c.autoStop(context.WithoutCancel(ctx), sn.Silence(), c.stopSession)
	}
	slog.Info("Recording started")
	c.notifyLocked()
	return nil
}

func (c *Controller) autoStop(ctx context.Context, silence <-chan struct{}, done <-chan struct{}) {
	select {
	case <-done:
	case <-silence:
		slog.Info("Silence detected, stopping recording")
		if err := c.StopRecording(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
			slog.Error("Failed to auto-stop recording", "error", err)
		}
	}
}

// StopRecording finalizes the clip and sends it to the voice endpoint,
// blocking until the reply is in the transcript.
func (c *Controller) StopRecording(ctx context.Context) error {
	if err := c.admitStop(); err != nil {
		return err
	}
	c.finalize(ctx)
	return nil
}

// StopRecordingAsync ends the recording and returns before the clip is sent.
func (c *Controller) StopRecordingAsync(ctx context.Context) error {
	if err := c.admitStop(); err != nil {
		return err
	}
	go c.finalize(context.WithoutCancel(ctx))
	return nil
}

func (c *Controller) admitStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != recActive {
		return ErrNotRecording
	}
	c.rec = recIdle
	c.loading = true
	close(c.stopSession)
	c.stopSession = nil
	c.notifyLocked()
	return nil
}

// finalize runs with loading already set.
func (c *Controller) finalize(ctx context.Context) {
	clip, err := c.capturer.Stop()
	if err == nil && clip.Empty() {
		err = audio.ErrEmptyClip
	}
	if err != nil {
		slog.Error("Failed to finalize recording", "error", err)
		c.finish(c.errorMessage(fmt.Errorf("failed to finalize recording: %w", err)))
		return
	}

	slog.Info("Recording stopped", "bytes", clip.Len(), "mediaType", clip.MediaType)
	c.sendClip(ctx, clip)
}

// SubmitClip sends an already captured clip through the voice path.
func (c *Controller) SubmitClip(ctx context.Context, clip audio.Clip) error {
	if clip.Empty() {
		return audio.ErrEmptyClip
	}

	c.mu.Lock()
	if c.loading || c.rec != recIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.loading = true
	c.notifyLocked()
	c.mu.Unlock()

	c.sendClip(ctx, clip)
	return nil
}

// sendClip runs with loading already set.
func (c *Controller) sendClip(ctx context.Context, clip audio.Clip) {
	c.mu.Lock()
	c.transcript.Append(c.newMessage(RoleUser, voiceLabel(clip), func(m *Message) {
		m.Origin = OriginSpoken
		m.Audio = &audio.Clip{Data: bytes.Clone(clip.Data), MediaType: clip.MediaType}
	}))
	c.notifyLocked()
	c.mu.Unlock()

	resp, err := c.assistant.ProcessVoice(ctx, clip)
	c.settle(resp, err)
}

// settle folds the outcome of a request into exactly one terminal message.
func (c *Controller) settle(resp *backend.Response, err error) {
	switch {
	case err != nil:
		slog.Error("Assistant request failed", "error", err)
		c.finish(c.errorMessage(fmt.Errorf("%w: %w", ErrTransport, err)))

	case resp.Rejected():
		text := RejectedFallback
		if msg, ok := resp.Message.Get(); ok && strings.TrimSpace(msg) != "" {
			text = msg
		}
		slog.Warn("Assistant rejected request", "message", text)
		c.finish(c.newMessage(RoleError, text, nil))

	default:
		reply := Normalize(resp)
		c.finish(c.newMessage(RoleAssistant, reply.Text, func(m *Message) {
			m.Suggestions = reply.Suggestions
		}))
	}
}

func (c *Controller) finish(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.Append(msg)
	c.loading = false
	c.notifyLocked()
}

// WaitIdle blocks until no request is pending and no recording is active.
func (c *Controller) WaitIdle(ctx context.Context) error {
	updates, cancel := c.Subscribe()
	defer cancel()

	if c.Snapshot().Idle() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-updates:
			if snap.Idle() {
				return nil
			}
		}
	}
}

func (c *Controller) newMessage(role Role, text string, fill func(*Message)) Message {
	msg := Message{
		ID:        uuid.New(),
		Role:      role,
		Text:      text,
		CreatedAt: c.now(),
	}
	if fill != nil {
		fill(&msg)
	}
	return msg
}

func (c *Controller) errorMessage(err error) Message {
	return c.newMessage(RoleError, "Error: "+err.Error(), nil)
}

func voiceLabel(clip audio.Clip) string {
	info, err := audio.Inspect(clip.Data)
	if err != nil {
		return "Voice message"
	}
	return fmt.Sprintf("Voice message (%s)", audio.FormatClock(info.Duration))
}
