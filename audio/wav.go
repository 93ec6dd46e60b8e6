package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/youpy/go-wav"
)

const (
	// MediaTypeWAV is the media type of clips produced by EncodePCM16.
	MediaTypeWAV = "audio/wav"

	channels      = 1  // Mono audio
	bitsPerSample = 16 // Using int16 for samples
	headerSize    = 44
)

var ErrEmptyClip = errors.New("audio clip is empty")

// Clip is a finite audio blob together with its media type.
type Clip struct {
	Data      []byte
	MediaType string
}

func (c Clip) Len() int { return len(c.Data) }

func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Info describes a decoded WAV clip.
type Info struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	Duration      time.Duration
}

type WavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func WriteWavHeader(w io.Writer, sampleRate, dataSize uint32) error {
	header := WavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(channels) * uint32(bitsPerSample) / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// EncodePCM16 wraps mono 16-bit samples into an in-memory WAV clip.
func EncodePCM16(samples []int16, sampleRate int) (Clip, error) {
	if len(samples) == 0 {
		return Clip{}, ErrEmptyClip
	}
	if sampleRate <= 0 {
		return Clip{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+int(dataSize)))
	if err := WriteWavHeader(buf, uint32(sampleRate), dataSize); err != nil {
		return Clip{}, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return Clip{}, fmt.Errorf("failed to write samples: %w", err)
	}

	return Clip{Data: buf.Bytes(), MediaType: MediaTypeWAV}, nil
}

// Inspect decodes the WAV header of data without consuming the samples.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyClip
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read WAV format: %w", err)
	}
	duration, err := reader.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read WAV duration: %w", err)
	}

	return Info{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		Duration:      duration,
	}, nil
}

// FormatClock renders d as mm:ss, truncating sub-second remainders.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
