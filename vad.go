package vosk

import "math"

// SampleDecoding selects how raw frame bytes are turned into samples for level estimation.
type SampleDecoding int

const (
	// DecodeInt8 treats every byte as one signed sample. For 16-bit PCM the level is
	// not physically meaningful; DefaultLevelThreshold assumes this decoding.
	DecodeInt8 SampleDecoding = iota
	// DecodePCM16LE reads little-endian 16-bit samples normalised to [-1, 1].
	DecodePCM16LE
)

// AudioLevelGate is a coarse silence/speech edge detector. It keeps no audio history:
// each Observe only shifts two booleans. It is not safe for concurrent use; feed it from
// the goroutine that produces the frames.
type AudioLevelGate struct {
	Threshold float64
	Decoding  SampleDecoding

	previousWasSpeech bool
	isCurrentlySpeech bool
}

func NewAudioLevelGate() *AudioLevelGate {
	return &AudioLevelGate{Threshold: DefaultLevelThreshold}
}

// Observe updates the gate with one frame.
func (g *AudioLevelGate) Observe(frame AudioFrame) {
	g.ObserveLevel(AudioLevel(frame.Data, g.Decoding))
}

// ObserveLevel updates the gate with a precomputed level.
func (g *AudioLevelGate) ObserveLevel(level float64) {
	g.previousWasSpeech = g.isCurrentlySpeech
	g.isCurrentlySpeech = level > g.Threshold
}

// IsSilence reports whether the last observed frame was at or below the threshold.
func (g *AudioLevelGate) IsSilence() bool {
	return !g.isCurrentlySpeech
}

// JustBecameSpeech reports a silence to speech transition on the last observation.
func (g *AudioLevelGate) JustBecameSpeech() bool {
	return !g.previousWasSpeech && g.isCurrentlySpeech
}

// AudioLevel returns sqrt(mean(sample^2)) over data.
func AudioLevel(data []byte, decoding SampleDecoding) float64 {
	switch decoding {
	case DecodePCM16LE:
		n := len(data) / 2
		if n == 0 {
			return 0
		}
		var sum float64
		for i := 0; i < n; i++ {
			s := float64(int16(uint16(data[2*i])|uint16(data[2*i+1])<<8)) / 32768
			sum += s * s
		}
		return math.Sqrt(sum / float64(n))
	default:
		if len(data) == 0 {
			return 0
		}
		var sum int64
		for _, b := range data {
			s := int64(int8(b))
			sum += s * s
		}
		return math.Sqrt(float64(sum) / float64(len(data)))
	}
}
