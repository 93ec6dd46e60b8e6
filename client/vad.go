package voxcli

import (
	"math"
	"time"
)

const (
	backgroundBufferSize = 50
	warmupChunks         = 10
	minNoiseFloor        = 1.0
)

// Detector is an energy based voice activity detector. It reports the end of
// an utterance once speech has been heard and the signal has then stayed near
// the background level for silenceAfter.
type Detector struct {
	threshold     float64
	silenceAfter  time.Duration
	chunkDuration time.Duration

	backgroundNoise  float64
	backgroundBuffer []float64
	speaking         bool
	silentFor        time.Duration
}

func NewDetector(threshold float64, silenceAfter, chunkDuration time.Duration) *Detector {
	return &Detector{
		threshold:        threshold,
		silenceAfter:     silenceAfter,
		chunkDuration:    chunkDuration,
		backgroundBuffer: make([]float64, 0, backgroundBufferSize),
	}
}

// Observe feeds one chunk and returns true when an utterance just ended.
func (d *Detector) Observe(chunk []int16) bool {
	amplitude := calculateChunkAmplitude(chunk)

	// The first chunks only calibrate the background level.
	if len(d.backgroundBuffer) < warmupChunks && !d.speaking {
		d.updateBackgroundNoise(amplitude)
		return false
	}

	energyRatio := amplitude / math.Max(d.backgroundNoise, minNoiseFloor)
	if energyRatio > d.threshold {
		d.speaking = true
		d.silentFor = 0
		return false
	}

	d.updateBackgroundNoise(amplitude)
	if !d.speaking {
		return false
	}

	d.silentFor += d.chunkDuration
	if d.silentFor >= d.silenceAfter {
		d.speaking = false
		d.silentFor = 0
		return true
	}
	return false
}

func (d *Detector) Speaking() bool {
	return d.speaking
}

func (d *Detector) BackgroundNoise() float64 {
	return d.backgroundNoise
}

func (d *Detector) updateBackgroundNoise(amplitude float64) {
	if len(d.backgroundBuffer) >= backgroundBufferSize {
		d.backgroundBuffer = d.backgroundBuffer[1:]
	}
	d.backgroundBuffer = append(d.backgroundBuffer, amplitude)

	var sum float64
	for _, a := range d.backgroundBuffer {
		sum += a
	}
	d.backgroundNoise = sum / float64(len(d.backgroundBuffer))
}

func calculateChunkAmplitude(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var totalAmplitude float64
	for _, sample := range chunk {
		totalAmplitude += math.Abs(float64(sample))
	}
	return totalAmplitude / float64(len(chunk))
}
