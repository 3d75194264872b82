package whisper

import (
	"encoding/binary"

	"github.com/agewell-labs/donna/pkg/audio"
)

const (
	// bitsPerSample matches the 16-bit little-endian PCM whisper.cpp expects.
	bitsPerSample = 16

	// whisperSampleRate is the only rate whisper models accept.
	whisperSampleRate = 16000
)

// normalizeForWhisper folds stereo input to mono and resamples to the 16 kHz
// whisper rate. Audio already in that shape passes through untouched.
func normalizeForWhisper(pcm []byte, sampleRate, channels int) []byte {
	if channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if sampleRate != whisperSampleRate {
		pcm = audio.ResampleMono16(pcm, sampleRate, whisperSampleRate)
	}
	return pcm
}

// pcmToFloat32 rescales 16-bit little-endian PCM to the [-1, 1) float32
// samples the CGO bindings take. A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples
}

// encodeWAV wraps raw PCM in a minimal RIFF header so it can travel as a
// regular file upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // uncompressed
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
