package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/agewell-labs/donna/pkg/types"
)

// Format is a sample rate and channel count pair.
type Format struct {
	SampleRate int
	Channels   int
}

// String renders the format the way it reads in logs, e.g. "8000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// sampleAt reads the little-endian int16 at sample index i.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// putSampleAt writes s at sample index i.
func putSampleAt(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

// clamp16 bounds v to the int16 range.
func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// FormatConverter reshapes AudioFrames to a fixed target format. The
// telephony transport runs one per outbound stream to bring synthesis
// output, typically 24kHz mono, down to the 8kHz mono the phone leg speaks.
//
// Not safe for shared use; give each stream its own converter.
type FormatConverter struct {
	Target Format

	mismatchOnce sync.Once
	corruptOnce  sync.Once
}

// Convert returns frame in the target format. Frames already matching pass
// through unchanged, same backing slice. Frames whose byte count cannot be
// int16 PCM come back empty, stamped with the target format so downstream
// accounting stays consistent. Each condition is logged once per converter.
func (c *FormatConverter) Convert(frame types.AudioFrame) types.AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.corruptOnce.Do(func() {
			slog.Warn("dropping malformed PCM frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return types.AudioFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.mismatchOnce.Do(func() {
		slog.Warn("audio format mismatch, converting",
			"from", Format{SampleRate: frame.SampleRate, Channels: frame.Channels},
			"to", c.Target,
		)
	})

	// Resample in the source channel layout, then fix the channel count.
	pcm := frame.Data
	if frame.SampleRate != c.Target.SampleRate {
		if frame.Channels == 2 {
			pcm = ResampleStereo16(pcm, frame.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
		}
	}
	switch {
	case frame.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case frame.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	return types.AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// MonoToStereo duplicates every mono sample into a left and right pair.
// Input is little-endian int16 PCM; a trailing odd byte is dropped.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSampleAt(out, i*2, s)
		putSampleAt(out, i*2+1, s)
	}
	return out
}

// StereoToMono folds stereo down by averaging left and right per frame.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSampleAt(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples little-endian int16 mono PCM from srcRate to
// dstRate by linear interpolation. Equal or invalid rates return the input
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 is ResampleMono16 for interleaved stereo frames.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	return resample(pcm, 2, srcRate, dstRate)
}

// resample linearly interpolates interleaved int16 PCM. The last source
// frame is held when interpolation reaches past the end.
func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	srcFrames := len(pcm) / (2 * channels)
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		for ch := range channels {
			s0 := sampleAt(pcm, idx*channels+ch)
			s1 := s0
			if idx+1 < srcFrames {
				s1 = sampleAt(pcm, (idx+1)*channels+ch)
			}
			putSampleAt(out, i*channels+ch, int16(float64(s0)*(1-frac)+float64(s1)*frac))
		}
	}
	return out
}
