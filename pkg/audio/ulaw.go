// Package audio provides the PCM plumbing between the telephony leg and the
// speech providers: the G.711 μ-law codec used on the wire, linear-interpolation
// resampling, and channel conversion.
//
// Telephony media streams carry 8-bit μ-law samples at 8 kHz; STT and TTS
// providers work in 16-bit linear PCM at 8–24 kHz. All PCM in this package is
// little-endian int16.
package audio

// G.711 μ-law uses 8 logarithmic segments with 4 quantisation bits per
// segment and a biased magnitude. The encoder follows the CCITT reference
// layout; the decoder is table-driven.

const (
	ulawBias = 0x84
	ulawClip = 8159
)

// UlawSilence is the μ-law encoding of a zero sample. Telephony providers pad
// gaps with it.
const UlawSilence byte = 0xFF

var ulawSegmentEnds = [8]int16{0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF}

// ulawToPCM maps every μ-law byte to its 16-bit linear sample.
var ulawToPCM [256]int16

func init() {
	for i := range ulawToPCM {
		ulawToPCM[i] = expandUlaw(byte(i))
	}
}

func expandUlaw(u byte) int16 {
	u = ^u
	t := int16(u&0x0F)<<3 + ulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return ulawBias - t
	}
	return t - ulawBias
}

// EncodeUlawSample compresses one 16-bit linear PCM sample to 8-bit μ-law.
func EncodeUlawSample(sample int16) byte {
	var mask byte = 0xFF
	v := sample >> 2
	if v < 0 {
		v = -v
		mask = 0x7F
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias >> 2

	seg := 0
	for seg < 8 && v > ulawSegmentEnds[seg] {
		seg++
	}
	if seg >= 8 {
		return 0x7F ^ mask
	}
	return (byte(seg)<<4 | byte((v>>(seg+1))&0x0F)) ^ mask
}

// DecodeUlawSample expands one μ-law byte to its 16-bit linear PCM sample.
func DecodeUlawSample(u byte) int16 {
	return ulawToPCM[u]
}

// EncodeUlaw compresses 16-bit little-endian PCM to 8-bit μ-law, halving the
// byte count. A trailing odd byte is ignored.
func EncodeUlaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = EncodeUlawSample(sampleAt(pcm, i))
	}
	return out
}

// DecodeUlaw expands 8-bit μ-law bytes to 16-bit little-endian PCM, doubling
// the byte count.
func DecodeUlaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		putSampleAt(out, i, ulawToPCM[u])
	}
	return out
}
