package voxcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/peterh/liner"

	"github.com/bosley/voxchat/chat"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// REPLOptions configures the terminal surface.
type REPLOptions struct {
	Out         io.Writer
	HistoryFile string
	// Output is used to play back voice messages.
	Output Output
	// ListDevices defaults to ListAudioDevices.
	ListDevices func() ([]InputDevice, error)
	// Markdown renders assistant text through glamour.
	Markdown bool
}

// REPL is an interactive terminal front end bound to a chat.Controller.
type REPL struct {
	ctrl *chat.Controller
	opts REPLOptions
	md   *glamour.TermRenderer

	printMu      sync.Mutex
	printed      int
	wasRecording bool
	wasLoading   bool

	playersMu sync.Mutex
	players   map[uuid.UUID]*playerEntry
	watchers  sync.WaitGroup
}

// playerEntry pairs a cached player with the stop signal of its watcher.
type playerEntry struct {
	player *Player
	stop   chan struct{}
}

func NewREPL(ctrl *chat.Controller, opts REPLOptions) *REPL {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Output == nil {
		opts.Output = PortAudioOutput{}
	}
	if opts.ListDevices == nil {
		opts.ListDevices = ListAudioDevices
	}

	r := &REPL{
		ctrl:    ctrl,
		opts:    opts,
		players: make(map[uuid.UUID]*playerEntry),
	}

	if opts.Markdown {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err != nil {
			slog.Warn("Markdown rendering disabled", "error", err)
		} else {
			r.md = md
		}
	}
	return r
}

// Run reads lines until /quit, Ctrl+C or Ctrl+D.
func (r *REPL) Run(ctx context.Context) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	r.loadHistory(line)
	defer r.saveHistory(line)
	defer r.Close()

	updates, cancel := r.ctrl.Subscribe()
	defer cancel()
	go func() {
		for snap := range updates {
			r.flush(snap)
		}
	}()

	fmt.Fprintln(r.opts.Out, dimStyle.Render("Type a message, /rec to record, /help for commands."))

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.opts.Out)
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		keepGoing, err := r.Handle(ctx, input)
		if err != nil {
			fmt.Fprintf(r.opts.Out, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
		if !keepGoing {
			return nil
		}
	}
}

// Handle executes one line of input. It returns false when the user quits.
func (r *REPL) Handle(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return true, nil
	}
	defer func() { r.flush(r.ctrl.Snapshot()) }()

	if !strings.HasPrefix(input, "/") {
		return true, busyHint(r.ctrl.SubmitText(ctx, input))
	}

	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		r.printHelp()
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	case "/rec", "/r":
		if r.ctrl.Snapshot().IsRecording {
			fmt.Fprintln(r.opts.Out, dimStyle.Render("[Sending voice message...]"))
			return true, r.ctrl.StopRecording(ctx)
		}
		return true, busyHint(r.ctrl.StartRecording(ctx))

	case "/play", "/p":
		return true, r.togglePlayback(ctx, args)

	case "/s", "/suggest":
		return true, r.submitSuggestion(ctx, args)

	case "/devices":
		return true, r.printDevices()

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

func busyHint(err error) error {
	if errors.Is(err, chat.ErrBusy) {
		return errors.New("busy: wait for the reply or stop the recording with /rec")
	}
	return err
}

func parseIndex(args []string, limit int, what string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s N", what)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > limit {
		return 0, fmt.Errorf("%s: %q is not between 1 and %d", what, args[0], limit)
	}
	return n - 1, nil
}

func (r *REPL) togglePlayback(ctx context.Context, args []string) error {
	msgs := r.ctrl.Snapshot().Messages
	idx, err := parseIndex(args, len(msgs), "/play")
	if err != nil {
		return err
	}
	msg := msgs[idx]
	if !msg.HasAudio() {
		return fmt.Errorf("message %d has no audio", idx+1)
	}

	player, err := r.player(ctx, msg)
	if err != nil {
		return err
	}
	if err := player.PlayPause(); err != nil {
		return err
	}

	status := "Paused"
	if player.Playing() {
		status = "Playing"
	}
	fmt.Fprintln(r.opts.Out, dimStyle.Render(
		fmt.Sprintf("[%s %s / %s]", status, player.Position(), player.Duration())))
	return nil
}

func (r *REPL) player(ctx context.Context, msg chat.Message) (*Player, error) {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()

	if e, ok := r.players[msg.ID]; ok {
		return e.player, nil
	}

	p := NewPlayer(r.opts.Output)
	if _, err := p.Load(*msg.Audio); err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	r.players[msg.ID] = &playerEntry{player: p, stop: stop}

	r.watchers.Add(1)
	go func() {
		defer r.watchers.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case _, ok := <-p.Finished():
				if !ok {
					return
				}
				r.printLine(dimStyle.Render(fmt.Sprintf("[Playback finished %s]", p.Duration())))
			}
		}
	}()
	return p, nil
}

func (r *REPL) submitSuggestion(ctx context.Context, args []string) error {
	last, ok := r.ctrl.Transcript().Last(chat.RoleAssistant)
	if !ok || len(last.Suggestions) == 0 {
		return errors.New("no suggestions available")
	}
	idx, err := parseIndex(args, len(last.Suggestions), "/s")
	if err != nil {
		return err
	}
	return busyHint(r.ctrl.SubmitText(ctx, last.Suggestions[idx]))
}

func (r *REPL) printDevices() error {
	devices, err := r.opts.ListDevices()
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("Available audio input devices:\n")
	for _, d := range devices {
		fmt.Fprintf(&b, "[%d] %s (%d ch, %.0f Hz)\n", d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	r.printLine(strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *REPL) printHelp() {
	r.printLine(strings.Join([]string{
		"Commands:",
		"  <text>       send a message",
		"  /rec         start or stop a voice recording",
		"  /play N      play or pause the audio of message N",
		"  /s N         send suggestion N of the last reply",
		"  /devices     list audio input devices",
		"  /quit        exit",
	}, "\n"))
}

// flush prints messages appended since the last call and state changes.
func (r *REPL) flush(snap chat.Snapshot) {
	r.printMu.Lock()
	defer r.printMu.Unlock()

	for i := r.printed; i < len(snap.Messages); i++ {
		fmt.Fprintln(r.opts.Out, FormatMessage(i+1, snap.Messages[i], r.render))
	}
	if len(snap.Messages) > r.printed {
		r.printed = len(snap.Messages)
	}

	if snap.IsRecording && !r.wasRecording {
		fmt.Fprintln(r.opts.Out, dimStyle.Render("[Recording... /rec to stop]"))
	}
	if snap.IsLoading && !r.wasLoading {
		fmt.Fprintln(r.opts.Out, dimStyle.Render("[Waiting for assistant...]"))
	}
	r.wasRecording = snap.IsRecording
	r.wasLoading = snap.IsLoading
}

func (r *REPL) printLine(s string) {
	r.printMu.Lock()
	defer r.printMu.Unlock()
	fmt.Fprintln(r.opts.Out, s)
}

func (r *REPL) render(text string) string {
	if r.md == nil {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// FormatMessage renders one transcript entry for the terminal.
func FormatMessage(index int, m chat.Message, render func(string) string) string {
	if render == nil {
		render = func(s string) string { return s }
	}

	var b strings.Builder
	switch m.Role {
	case chat.RoleUser:
		b.WriteString(userStyle.Render(fmt.Sprintf("[%d] You", index)))
		if m.Origin == chat.OriginSpoken {
			b.WriteString(dimStyle.Render(fmt.Sprintf(" (voice, /play %d)", index)))
		}
		b.WriteString(": ")
		b.WriteString(m.Text)

	case chat.RoleAssistant:
		b.WriteString(assistantStyle.Render(fmt.Sprintf("[%d] Assistant", index)))
		b.WriteString("\n")
		b.WriteString(render(m.Text))
		for i, s := range m.Suggestions {
			fmt.Fprintf(&b, "\n  %s %s", dimStyle.Render(fmt.Sprintf("/s %d", i+1)), s)
		}

	default:
		b.WriteString(errorStyle.Render(fmt.Sprintf("[%d] Error", index)))
		b.WriteString(" ")
		b.WriteString(m.Text)
	}
	return b.String()
}

// Close releases every player opened by the REPL and waits for their
// watchers to exit.
func (r *REPL) Close() {
	r.playersMu.Lock()
	for id, e := range r.players {
		close(e.stop)
		if err := e.player.Close(); err != nil {
			slog.Debug("Failed to close player", "messageID", id, "error", err)
		}
		delete(r.players, id)
	}
	r.playersMu.Unlock()

	r.watchers.Wait()
}

func (r *REPL) loadHistory(line *liner.State) {
	if r.opts.HistoryFile == "" {
		return
	}
	if f, err := os.Open(r.opts.HistoryFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
}

func (r *REPL) saveHistory(line *liner.State) {
	if r.opts.HistoryFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.opts.HistoryFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(r.opts.HistoryFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
