package voxcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/bosley/voxchat/audio"
)

const (
	channels        = 1
	framesPerBuffer = 1024
)

var (
	ErrNoInputDevice = errors.New("no usable audio input device")
	ErrNotCapturing  = errors.New("capture not started")
)

// CaptureOptions configures a Capturer.
type CaptureOptions struct {
	// DeviceID selects an input by its index in portaudio.Devices().
	// Zero uses the default input device.
	DeviceID   int
	SampleRate int

	// SilenceStop enables end-of-speech detection when positive.
	SilenceStop  time.Duration
	VADThreshold float64
}

// Capturer records mono 16-bit PCM from a portaudio input into a WAV clip.
// Each Start opens the device and each Stop releases it again.
type Capturer struct {
	opts CaptureOptions

	mu      sync.Mutex
	stream  *portaudio.Stream
	samples []int16
	vad     *Detector
	silence chan struct{}
	signal  *sync.Once
}

func NewCapturer(opts CaptureOptions) *Capturer {
	return &Capturer{opts: opts}
}

func (c *Capturer) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return errors.New("capture already running")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	inputParams, err := inputParameters(c.opts.DeviceID, c.opts.SampleRate)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	c.samples = make([]int16, 0, c.opts.SampleRate*10)
	c.silence = make(chan struct{})
	c.signal = new(sync.Once)
	c.vad = nil
	if c.opts.SilenceStop > 0 {
		chunk := time.Duration(framesPerBuffer) * time.Second / time.Duration(c.opts.SampleRate)
		c.vad = NewDetector(c.opts.VADThreshold, c.opts.SilenceStop, chunk)
	}

	stream, err := portaudio.OpenStream(inputParams, c.processAudioChunk)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	c.stream = stream
	return nil
}

func (c *Capturer) processAudioChunk(in []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, in...)
	if c.vad != nil && c.vad.Observe(in) {
		c.signal.Do(func() { close(c.silence) })
	}
}

// Silence is closed when the detector sees the end of an utterance.
func (c *Capturer) Silence() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.silence
}

// Stop closes the stream, releases portaudio and returns the recording.
func (c *Capturer) Stop() (audio.Clip, error) {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		return audio.Clip{}, ErrNotCapturing
	}

	// Stop waits for the callback to return, so it must run without c.mu.
	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop audio stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audio stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("failed to terminate PortAudio: %w", err))
	}

	c.mu.Lock()
	samples := c.samples
	c.samples = nil
	c.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		return audio.Clip{}, err
	}

	slog.Debug("Capture finished",
		"samples", len(samples),
		"seconds", float64(len(samples))/float64(c.opts.SampleRate))

	return audio.EncodePCM16(samples, c.opts.SampleRate)
}

func inputParameters(deviceID, sampleRate int) (portaudio.StreamParameters, error) {
	var device *portaudio.DeviceInfo

	if deviceID > 0 { // Only use specific device if explicitly requested (non-zero)
		devices, err := portaudio.Devices()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get audio devices: %w", err)
		}
		if deviceID >= len(devices) {
			return portaudio.StreamParameters{}, fmt.Errorf("%w: invalid device ID %d", ErrNoInputDevice, deviceID)
		}
		device = devices[deviceID]
		if device.MaxInputChannels == 0 {
			return portaudio.StreamParameters{}, fmt.Errorf("%w: %s is not an input device", ErrNoInputDevice, device.Name)
		}
	} else {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
		}
	}

	slog.Info("Using audio input device",
		"deviceID", deviceID,
		"deviceName", device.Name,
		"sampleRate", sampleRate,
		"inputChannels", device.MaxInputChannels)

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, nil
}

// InputDevice is an input-capable device and its portaudio index.
type InputDevice struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

func ListAudioDevices() ([]InputDevice, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	inputDevices := make([]InputDevice, 0)
	for i, device := range devices {
		if device.MaxInputChannels > 0 {
			inputDevices = append(inputDevices, InputDevice{
				Index:             i,
				Name:              device.Name,
				MaxInputChannels:  device.MaxInputChannels,
				DefaultSampleRate: device.DefaultSampleRate,
			})
		}
	}

	return inputDevices, nil
}
