package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agewell-labs/donna/pkg/types"
)

const (
	// maxInflight bounds concurrent synthesis requests per stream. More
	// hides inter-sentence latency; it is also more load on a server that
	// is usually a single CPU container.
	maxInflight = 4

	// audioChanBuf is the depth of the audio channel handed to the caller.
	audioChanBuf = 256

	// pcmChunkSize is how much PCM each channel send carries.
	pcmChunkSize = 4096
)

// synthResult is the outcome of one sentence's synthesis request.
type synthResult struct {
	pcm []byte
	err error
}

// SynthesizeStream assembles the incoming fragments into sentences and
// synthesises each one with its own HTTP request. Both server flavours are
// batch engines, so this is the only way to stream: up to maxInflight
// sentences run through the server concurrently while their audio is
// emitted strictly in sentence order.
//
// The returned channel closes once the text channel closes and all audio
// has been delivered. Cancelling ctx or a failed synthesis closes it
// early. The caller must drain it.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	// XTTS needs a reference speaker for every request. The standard
	// server runs single-speaker models without one.
	if p.apiMode == APIModeXTTS && voice.ID == "" {
		return nil, errors.New("coqui: xtts synthesis needs voice.ID as the reference speaker")
	}

	// Each sentence gets a future on pending. The queue capacity is what
	// bounds how many requests run at once.
	pending := make(chan chan synthResult, maxInflight)
	out := make(chan []byte, audioChanBuf)

	sctx, cancel := context.WithCancel(ctx)
	go p.dispatch(sctx, text, voice, pending)
	go func() {
		defer cancel()
		p.collect(sctx, pending, out)
	}()

	return out, nil
}

// dispatch reads fragments, cuts them into sentences, and starts one
// synthesis request per sentence. Futures enter pending in sentence order
// so collect can hold that order no matter which request finishes first.
func (p *Provider) dispatch(ctx context.Context, text <-chan string, voice types.VoiceProfile, pending chan<- chan synthResult) {
	defer close(pending)

	var scan sentenceScanner
	launch := func(sentence string) bool {
		fut := make(chan synthResult, 1)
		select {
		case pending <- fut:
		case <-ctx.Done():
			return false
		}
		go func() {
			pcm, err := p.synthesize(ctx, sentence, voice)
			fut <- synthResult{pcm: pcm, err: err}
		}()
		return true
	}

	for {
		select {
		case frag, ok := <-text:
			if !ok {
				if tail := scan.flush(); tail != "" {
					launch(tail)
				}
				return
			}
			for _, sentence := range scan.feed(frag) {
				if !launch(sentence) {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// collect drains futures in sentence order, slicing each result into fixed
// chunks so playback starts before a whole sentence has transferred. The
// stream ends at the first failed synthesis.
func (p *Provider) collect(ctx context.Context, pending <-chan chan synthResult, out chan<- []byte) {
	defer close(out)

	for fut := range pending {
		var res synthResult
		select {
		case res = <-fut:
		case <-ctx.Done():
			return
		}
		if res.err != nil {
			if ctx.Err() == nil {
				slog.Error("coqui synthesis failed", "error", res.err)
			}
			return
		}
		for pcm := res.pcm; len(pcm) > 0; {
			n := min(pcmChunkSize, len(pcm))
			select {
			case out <- pcm[:n]:
			case <-ctx.Done():
				return
			}
			pcm = pcm[n:]
		}
	}
}

// synthesize runs one sentence through whichever API the provider targets.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	if p.apiMode == APIModeXTTS {
		return p.synthesizeXTTS(ctx, sentence, voice)
	}
	return p.synthesizeStandard(ctx, sentence, voice)
}

// xttsRequest is the POST /tts_to_audio/ body.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (p *Provider) synthesizeXTTS(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	payload, err := json.Marshal(xttsRequest{
		Text:       sentence,
		SpeakerWav: voice.ID,
		Language:   p.language,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: encode synthesis request: %w", err)
	}
	wav, err := p.do(ctx, http.MethodPost, xttsSynthPath, bytes.NewReader(payload), "application/json", "audio/wav")
	if err != nil {
		return nil, err
	}
	return p.stripWAV(wav)
}

func (p *Provider) synthesizeStandard(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	q := url.Values{}
	q.Set("text", sentence)
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	wav, err := p.do(ctx, http.MethodGet, standardSynthPath+"?"+q.Encode(), nil, "", "audio/wav")
	if err != nil {
		return nil, err
	}
	return p.stripWAV(wav)
}

// sentenceScanner buffers streamed text until a sentence terminator shows
// up. LLM deltas arrive a few words at a time and the batch servers need
// whole sentences to get prosody right.
type sentenceScanner struct {
	buf strings.Builder
}

// feed adds frag to the buffer and returns any sentences it completed,
// trimmed of surrounding whitespace.
func (sc *sentenceScanner) feed(frag string) []string {
	sc.buf.WriteString(frag)
	var done []string
	for {
		text := sc.buf.String()
		end := sentenceEnd(text)
		if end < 0 {
			return done
		}
		sc.buf.Reset()
		sc.buf.WriteString(text[end+1:])
		if s := strings.TrimSpace(text[:end+1]); s != "" {
			done = append(done, s)
		}
	}
}

// flush hands back whatever is still buffered once the input ends.
func (sc *sentenceScanner) flush() string {
	tail := strings.TrimSpace(sc.buf.String())
	sc.buf.Reset()
	return tail
}

// sentenceEnd locates the first '.', '!' or '?' that closes a sentence,
// meaning it ends the text or is followed by whitespace. The whitespace
// rule keeps decimals like "98.6" intact. Abbreviations such as "Dr." do
// split a beat early, which costs a pause rather than wrong audio.
func sentenceEnd(text string) int {
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) {
				return i
			}
			if next, _ := utf8.DecodeRuneInString(text[i+1:]); unicode.IsSpace(next) {
				return i
			}
		}
	}
	return -1
}
