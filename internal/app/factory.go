package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agewell-labs/donna/internal/agent"
	"github.com/agewell-labs/donna/internal/callcontext"
	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/config"
	"github.com/agewell-labs/donna/internal/director"
	"github.com/agewell-labs/donna/internal/guidance"
	"github.com/agewell-labs/donna/internal/observer"
	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/internal/speech"
	"github.com/agewell-labs/donna/internal/telephony"
	"github.com/agewell-labs/donna/internal/tools"
	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/types"
)

// finalizeTimeout bounds one post-call flow. The review and extraction
// steps call a model; a hung provider must not pin the goroutine forever.
const finalizeTimeout = 2 * time.Minute

// keywordIntensity is the recognition boost applied to profile vocabulary.
const keywordIntensity = 3

// CreateSession implements [telephony.SessionFactory]. It resolves who is
// on the line, attaches their prefetched context when one was stashed, and
// assembles the call pipeline.
//
// A caller that cannot be matched to a senior still gets a conversation,
// with the default persona and no memory; nothing is persisted for such
// calls.
func (a *App) CreateSession(ctx context.Context, info telephony.CallInfo, sink telephony.MediaSink) (*telephony.StreamSession, error) {
	log := slog.With("call_sid", info.CallSID)

	prep, senior := a.prepare(ctx, info, log)
	kind := callKind(prep, info.Parameters)

	seniorID := ""
	if senior != nil {
		seniorID = senior.ID
	}
	sess := callsession.New(info.CallSID, seniorID, kind, a.cfg.Call.MaxDuration())

	var cc *callcontext.CallContext
	if prep != nil {
		cc = prep.Context
	}
	if cc != nil {
		sess.SetPendingReminders(cc.Reminders)
	}

	a.recordConversation(ctx, info.CallSID, senior, kind, log)

	out := telephony.NewOutput(sink)
	procs, err := a.buildChain(sess, cc, prep, senior, out)
	if err != nil {
		return nil, fmt.Errorf("app: assemble call pipeline: %w", err)
	}

	task := pipeline.NewTask(procs,
		pipeline.WithLogger(log),
		pipeline.WithDeadline(a.cfg.Call.MaxDuration()),
	)

	a.registerCall(info.CallSID, task)
	a.metrics.RecordCallStarted(ctx, string(kind))
	a.metrics.ActiveCalls.Add(ctx, 1)
	log.Info("call session created",
		"kind", kind, "senior_id", seniorID, "prefetched", prep != nil)

	greeting := ""
	if prep != nil {
		greeting = prep.Greeting
	}

	return &telephony.StreamSession{
		Task:     task,
		Output:   out,
		Greeting: greeting,
		OnClose:  a.closeFunc(sess, senior),
	}, nil
}

// prepare resolves the call's context bundle and senior profile. Outbound
// calls find their bundle stashed under the call SID (scheduler) or the
// dialled number (manual calls); inbound callers are matched by number or
// routing hint and get a fresh assembly. Resolution failures degrade, they
// never refuse the call.
func (a *App) prepare(ctx context.Context, info telephony.CallInfo, log *slog.Logger) (*callcontext.Prepared, *memory.Senior) {
	prep, ok := a.stash.TakeCall(info.CallSID)
	if !ok && info.Caller != "" {
		prep, ok = a.stash.TakePhone(info.Caller)
	}
	if ok && prep.Context != nil && prep.Context.Senior != nil {
		return prep, prep.Context.Senior
	}

	senior := a.lookupSenior(ctx, info, log)
	if senior == nil {
		log.Warn("caller not recognised, answering without context", "caller", info.Caller)
		return nil, nil
	}

	cc, err := a.assembler.Assemble(ctx, senior.ID, callcontext.AssembleOptions{})
	if err != nil {
		log.Warn("context assembly failed, answering with bare profile", "err", err)
		return nil, senior
	}
	return &callcontext.Prepared{
		Context:      cc,
		SystemPrompt: callcontext.FormatSystemPrompt(cc, ""),
		Greeting:     callcontext.Greeting(cc, time.Now()),
		Kind:         memory.CallInbound,
		CreatedAt:    time.Now(),
	}, senior
}

func (a *App) lookupSenior(ctx context.Context, info telephony.CallInfo, log *slog.Logger) *memory.Senior {
	if id := info.Parameters["senior_id"]; id != "" {
		s, err := a.stores.Seniors.Get(ctx, id)
		if err != nil {
			log.Warn("senior lookup by id failed", "senior_id", id, "err", err)
		} else if s != nil {
			return s
		}
	}
	if info.Caller == "" {
		return nil
	}
	s, err := a.stores.Seniors.ByPhone(ctx, info.Caller)
	if err != nil {
		log.Warn("senior lookup by phone failed", "err", err)
		return nil
	}
	return s
}

// callKind derives the session kind from the stashed bundle or, for calls
// without one, the webhook's routing hint. Unmatched calls default to
// check-in.
func callKind(prep *callcontext.Prepared, params map[string]string) callsession.CallKind {
	if prep != nil {
		switch prep.Kind {
		case memory.CallReminder:
			return callsession.KindReminder
		case memory.CallOutbound:
			return callsession.KindScheduled
		}
	}
	switch params["kind"] {
	case "reminder":
		return callsession.KindReminder
	case "scheduled":
		return callsession.KindScheduled
	}
	return callsession.KindCheckIn
}

// callType maps the session kind back onto the conversation record's type.
func callType(kind callsession.CallKind) memory.CallType {
	switch kind {
	case callsession.KindReminder:
		return memory.CallReminder
	case callsession.KindScheduled:
		return memory.CallOutbound
	}
	return memory.CallInbound
}

// recordConversation opens the call's conversation row. A failed write
// does not fail the call; the post-call flow logs the missing row instead.
func (a *App) recordConversation(ctx context.Context, callSID string, senior *memory.Senior, kind callsession.CallKind, log *slog.Logger) {
	if senior == nil {
		return
	}
	conv := memory.Conversation{
		ID:        uuid.NewString(),
		SeniorID:  senior.ID,
		CallID:    callSID,
		Type:      callType(kind),
		Status:    memory.ConversationActive,
		StartedAt: time.Now(),
	}
	if err := a.stores.Conversations.Create(ctx, conv); err != nil {
		log.Warn("conversation row not recorded", "err", err)
	}
}

// buildChain assembles the per-call processor chain. Order matters: the
// observer and director read transcriptions before the responder consumes
// them, the stripper removes guidance before the tracker records the turn,
// and the synthesizer sits last before the transport so barge-in cancels
// reach it first.
func (a *App) buildChain(sess *callsession.Session, cc *callcontext.CallContext, prep *callcontext.Prepared, senior *memory.Senior, out *telephony.Output) ([]pipeline.Processor, error) {
	cfg := a.cfg

	transcriber, err := speech.NewTranscriber(speech.TranscriberConfig{
		Provider:       a.sttProvider,
		Language:       cfg.Call.Language,
		EndpointingMs:  cfg.Call.STTEndpointingMs,
		UtteranceEndMs: cfg.Call.STTUtteranceEndMs,
		Keywords:       keywordHints(senior, sess.PendingReminders()),
		Probe:          out,
	})
	if err != nil {
		return nil, err
	}

	systemPrompt := callcontext.FormatSystemPrompt(cc, "")
	if prep != nil && prep.SystemPrompt != "" {
		systemPrompt = prep.SystemPrompt
	}
	responder, err := agent.NewResponder(agent.Config{
		Session:      sess,
		Provider:     a.conversationLLM,
		SystemPrompt: systemPrompt,
		Tools:        a.callTools(senior),
		Temperature:  cfg.Call.Temperature,
	})
	if err != nil {
		return nil, err
	}

	synthesizer, err := speech.NewSynthesizer(speech.SynthesizerConfig{
		Provider: a.ttsProvider,
		Voice:    voiceProfile(cfg.Call.Voice),
	})
	if err != nil {
		return nil, err
	}

	return []pipeline.Processor{
		telephony.NewInput(),
		transcriber,
		observer.New(sess, observer.WithGoodbyeDelay(cfg.Call.GoodbyeSilence())),
		director.New(sess, a.directorLLM, a.briefing(senior, cc)),
		responder,
		guidance.NewStripper(),
		callsession.NewTracker(sess),
		synthesizer,
		out,
	}, nil
}

// briefing condenses the assembled context into the director's pre-call
// notes.
func (a *App) briefing(senior *memory.Senior, cc *callcontext.CallContext) director.Briefing {
	b := director.Briefing{Profile: callcontext.CompactProfile(senior)}
	if cc != nil {
		b.DailySummary = callcontext.CompactDaily(cc.Today)
		b.Memories = cc.MemoryLines(5)
	}
	return b
}

// callTools binds the per-call tool set: the shared catalogue plus memory
// recall scoped to the senior on the line.
func (a *App) callTools(senior *memory.Senior) agent.ToolExecutor {
	if senior == nil {
		return a.tools
	}
	return a.tools.Bind(tools.RecallMemory(
		a.stores.Memories, a.providers.Embeddings, senior.ID, a.cfg.Memory.SearchThreshold,
	))
}

func voiceProfile(vc config.VoiceConfig) types.VoiceProfile {
	return types.VoiceProfile{
		ID:              vc.VoiceID,
		Provider:        vc.Provider,
		Stability:       vc.Stability,
		SimilarityBoost: vc.SimilarityBoost,
		SpeedFactor:     vc.SpeedFactor,
	}
}

// keywordHints collects uncommon vocabulary worth boosting in recognition:
// the senior's name, family names, and the words of pending reminder
// titles, where medication names live.
func keywordHints(senior *memory.Senior, rems []memory.Reminder) []types.KeywordBoost {
	seen := make(map[string]struct{})
	var hints []types.KeywordBoost
	add := func(word string) {
		word = strings.Trim(word, ".,!?()")
		if len(word) < 3 || word[0] < 'A' || word[0] > 'Z' {
			return
		}
		key := strings.ToLower(word)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		hints = append(hints, types.KeywordBoost{Keyword: word, Boost: keywordIntensity})
	}
	if senior != nil {
		add(senior.FirstName)
		for _, f := range senior.Family {
			for _, w := range strings.Fields(f) {
				add(w)
			}
		}
	}
	for _, r := range rems {
		// Skip the title-initial word: a capital there is an imperative
		// verb, not vocabulary.
		for i, w := range strings.Fields(r.Title) {
			if i == 0 {
				continue
			}
			add(w)
		}
	}
	return hints
}

// closeFunc builds the session's OnClose hook. It runs on the media
// handler's goroutine after the socket has closed, so the post-call flow
// detaches with its own context and deadline.
func (a *App) closeFunc(sess *callsession.Session, senior *memory.Senior) func(string) {
	return func(reason string) {
		a.unregisterCall(sess.CallSID())
		a.metrics.ActiveCalls.Add(context.Background(), -1)
		slog.Info("call ended",
			"call_sid", sess.CallSID(), "reason", reason, "elapsed", sess.Elapsed())

		if sess.SeniorID() == "" {
			// Unmatched caller: nothing to persist.
			a.stash.Drop(sess.CallSID())
			a.drainWG.Done()
			return
		}
		go func() {
			defer a.drainWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
			defer cancel()
			a.finalizer.Finalize(ctx, sess, senior, memory.ConversationCompleted)
		}()
	}
}
