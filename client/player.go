package voxcli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"

	"github.com/bosley/voxchat/audio"
)

var (
	ErrNotLoaded         = errors.New("player has no loaded clip")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// PlayerState is the load state of a Player.
type PlayerState int

const (
	StateEmpty PlayerState = iota
	StateReady
	StateFailed
)

func (s PlayerState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "empty"
}

// Output opens a playback stream that pulls interleaved samples from fill.
type Output interface {
	Open(sampleRate float64, channels int, fill func(out []int16)) (Stream, error)
}

type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Player plays one clip. Players are independent of each other.
//
// ctl serializes stream control (open, start, stop, close); mu guards the
// sample state shared with the stream callback. Stream calls are never made
// while holding mu because Stop waits for the callback to return.
type Player struct {
	output Output

	ctl     sync.Mutex
	stream  Stream
	running bool

	mu         sync.Mutex
	state      PlayerState
	clip       audio.Clip
	samples    []int16
	channels   int
	sampleRate int
	pos        int
	playing    bool
	finished   chan struct{}
}

func NewPlayer(output Output) *Player {
	return &Player{
		output:   output,
		finished: make(chan struct{}, 1),
	}
}

// Load decodes clip. On failure the player is left in StateFailed.
func (p *Player) Load(clip audio.Clip) (PlayerState, error) {
	samples, channels, rate, err := decodeWAV(clip.Data)

	p.ctl.Lock()
	defer p.ctl.Unlock()

	if relErr := p.release(); relErr != nil {
		slog.Debug("Failed to release previous stream", "error", relErr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.state = StateFailed
		p.clip = audio.Clip{}
		return p.state, fmt.Errorf("failed to load clip: %w", err)
	}

	p.clip = clip
	p.samples = samples
	p.channels = channels
	p.sampleRate = rate
	p.pos = 0
	p.state = StateReady
	return p.state, nil
}

func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Clip returns the clip the player was loaded with.
func (p *Player) Clip() audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clip
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// PlayPause toggles playback. Playing from the end restarts the clip.
func (p *Player) PlayPause() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	if p.playing {
		p.playing = false
		p.mu.Unlock()
		return p.stopStream()
	}
	if p.pos >= len(p.samples) {
		p.pos = 0
	}
	rate, channels := p.sampleRate, p.channels
	p.mu.Unlock()

	// A stream left running by a finished clip is stopped before restarting.
	if err := p.stopStream(); err != nil {
		return err
	}

	if p.stream == nil {
		stream, err := p.output.Open(float64(rate), channels, p.fill)
		if err != nil {
			return fmt.Errorf("failed to open playback stream: %w", err)
		}
		p.stream = stream
	}

	p.setPlaying(true)
	if err := p.stream.Start(); err != nil {
		p.setPlaying(false)
		return fmt.Errorf("failed to start playback: %w", err)
	}
	p.running = true
	return nil
}

func (p *Player) setPlaying(v bool) {
	p.mu.Lock()
	p.playing = v
	p.mu.Unlock()
}

// stopStream requires ctl.
func (p *Player) stopStream() error {
	if !p.running {
		return nil
	}
	p.running = false
	if err := p.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}
	return nil
}

func (p *Player) fill(out []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	if p.playing {
		n = copy(out, p.samples[p.pos:])
		p.pos += n
	}
	// Fill remaining buffer with silence if needed
	for i := n; i < len(out); i++ {
		out[i] = 0
	}

	if p.playing && p.pos >= len(p.samples) {
		p.playing = false
		// Stopping from inside the stream callback would deadlock.
		go p.finish()
	}
}

func (p *Player) finish() {
	p.ctl.Lock()
	p.mu.Lock()
	idle := !p.playing
	p.mu.Unlock()
	if idle {
		if err := p.stopStream(); err != nil {
			slog.Debug("Failed to stop finished stream", "error", err)
		}
	}
	p.ctl.Unlock()

	select {
	case p.finished <- struct{}{}:
	default:
	}
}

// Finished receives a value each time playback reaches the end.
func (p *Player) Finished() <-chan struct{} {
	return p.finished
}

// Position is the playback position as mm:ss.
func (p *Player) Position() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return audio.FormatClock(p.framesToDuration(p.pos))
}

// Duration is the clip length as mm:ss.
func (p *Player) Duration() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return audio.FormatClock(p.framesToDuration(len(p.samples)))
}

func (p *Player) framesToDuration(samples int) time.Duration {
	if p.sampleRate == 0 || p.channels == 0 {
		return 0
	}
	frames := samples / p.channels
	return time.Duration(frames) * time.Second / time.Duration(p.sampleRate)
}

// Close releases the playback stream and decoded samples.
func (p *Player) Close() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	err := p.release()

	p.mu.Lock()
	p.state = StateEmpty
	p.clip = audio.Clip{}
	p.mu.Unlock()
	return err
}

// release requires ctl.
func (p *Player) release() error {
	p.mu.Lock()
	p.playing = false
	p.samples = nil
	p.pos = 0
	p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	stopErr := p.stopStream()
	closeErr := p.stream.Close()
	p.stream = nil
	return errors.Join(stopErr, closeErr)
}

func decodeWAV(data []byte) ([]int16, int, int, error) {
	if len(data) == 0 {
		return nil, 0, 0, audio.ErrEmptyClip
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return nil, 0, 0, err
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return nil, 0, 0, ErrUnsupportedFormat
	}

	var shift func(int) int16
	switch format.BitsPerSample {
	case 8:
		shift = func(v int) int16 { return int16((v - 128) << 8) }
	case 16:
		shift = func(v int) int16 { return int16(v) }
	case 24:
		shift = func(v int) int16 { return int16(v >> 8) }
	case 32:
		shift = func(v int) int16 { return int16(v >> 16) }
	default:
		return nil, 0, 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, format.BitsPerSample)
	}

	channels := int(format.NumChannels)
	out := make([]int16, 0, len(data)/2)
	for {
		samples, err := reader.ReadSamples(framesPerBuffer)
		for _, s := range samples {
			for ch := 0; ch < channels && ch < len(s.Values); ch++ {
				out = append(out, shift(s.Values[ch]))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read samples: %w", err)
		}
	}

	return out, channels, int(format.SampleRate), nil
}

// PortAudioOutput plays through the default output device.
type PortAudioOutput struct{}

func (PortAudioOutput) Open(sampleRate float64, channels int, fill func(out []int16)) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(0, channels, sampleRate, framesPerBuffer, fill)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return &portAudioStream{Stream: stream}, nil
}

type portAudioStream struct {
	*portaudio.Stream
}

// Close also releases the portaudio reference taken in Open.
func (s *portAudioStream) Close() error {
	err := s.Stream.Close()
	return errors.Join(err, portaudio.Terminate())
}

// PlayAudioFile plays a WAV file through the default output and returns
// once it has finished.
func PlayAudioFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}

	player := NewPlayer(PortAudioOutput{})
	defer player.Close()

	if _, err := player.Load(audio.Clip{Data: data, MediaType: audio.MediaTypeWAV}); err != nil {
		return err
	}
	if err := player.PlayPause(); err != nil {
		return err
	}

	fmt.Printf("Playing %s (%s)\n", filename, player.Duration())
	<-player.Finished()
	return nil
}
