package coqui

import (
	"encoding/binary"
	"errors"

	"github.com/agewell-labs/donna/pkg/audio"
)

// fallbackWAVRate is assumed when a response carries no fmt chunk before
// its data chunk. Coqui's VITS models default to 22.05 kHz output.
const fallbackWAVRate = 22050

// wavInfo describes the audio inside a RIFF/WAVE response: where the
// sample data starts and how it was recorded.
type wavInfo struct {
	dataOffset int
	sampleRate int
	channels   int
}

// parseWAV walks the RIFF chunks of a synthesis response and reports where
// the PCM payload begins along with the format declared by the fmt chunk.
// Coqui servers do not always emit the textbook 44-byte header, so the
// data chunk is located by walking rather than by a fixed offset.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("coqui: response too short for a RIFF header")
	}
	if string(wav[:4]) != "RIFF" {
		return wavInfo{}, errors.New("coqui: response is not RIFF data")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: RIFF payload is not WAVE audio")
	}

	info := wavInfo{sampleRate: fallbackWAVRate, channels: 1}
	for pos := 12; pos+8 <= len(wav); {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size >= 16 && body+16 <= len(wav) {
				info.channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
				info.sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			}
		case "data":
			info.dataOffset = body
			return info, nil
		}

		// Chunks are word aligned; odd sizes carry a pad byte.
		pos = body + size + size%2
	}
	return wavInfo{}, errors.New("coqui: no data chunk in WAV response")
}

// stripWAV drops the container from a synthesis response, leaving bare PCM
// at the provider's output rate. Resampling only handles mono input, which
// is what every Coqui model ships.
func (p *Provider) stripWAV(wav []byte) ([]byte, error) {
	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.dataOffset:]
	if p.outputRate > 0 && info.sampleRate != p.outputRate && info.channels == 1 {
		pcm = audio.ResampleMono16(pcm, info.sampleRate, p.outputRate)
	}
	return pcm, nil
}
