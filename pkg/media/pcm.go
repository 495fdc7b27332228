// Package media implements the real-time audio pipeline: 16-bit PCM
// conversion, the ring-buffer streaming player, and ffmpeg-backed microphone
// capture.
package media

import "math"

// Standard rates for the voice channel: the client captures at 16 kHz mono
// and the coach speaks at 24 kHz mono, both 16-bit signed little-endian.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	BytesPerSample     = 2
)

// EncodeSample converts a float sample to int16, clamping to [-1, 1].
// Scaling is asymmetric to match the two's-complement range: negative values
// scale by 32768, positive by 32767, so 1.0 encodes to 32767 (not an
// overflowed 32768) and -1.0 to -32768.
func EncodeSample(s float32) int16 {
	if s < -1 {
		s = -1
	}
	if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// DecodeSample normalizes an int16 sample into [-1, 1).
func DecodeSample(v int16) float32 {
	return float32(v) / 32768
}

// EncodePCM16 converts float samples to 16-bit little-endian PCM bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := EncodeSample(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM bytes to float samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = DecodeSample(v)
	}
	return out
}

// RMSEnergy computes the root-mean-square energy of 16-bit little-endian PCM.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 to avoid overflow when negating -32768.
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}
