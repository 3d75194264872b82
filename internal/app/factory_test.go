package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agewell-labs/donna/internal/callcontext"
	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/config"
	"github.com/agewell-labs/donna/internal/telephony"
	"github.com/agewell-labs/donna/pkg/memory"
	memorymock "github.com/agewell-labs/donna/pkg/memory/mock"
	embmock "github.com/agewell-labs/donna/pkg/provider/embeddings/mock"
	llmmock "github.com/agewell-labs/donna/pkg/provider/llm/mock"
	sttmock "github.com/agewell-labs/donna/pkg/provider/stt/mock"
	ttsmock "github.com/agewell-labs/donna/pkg/provider/tts/mock"
)

// nullSink discards outbound media.
type nullSink struct{}

func (nullSink) SendMedia(context.Context, string) error { return nil }
func (nullSink) SendMark(context.Context, string) error  { return nil }
func (nullSink) SendClear(context.Context) error         { return nil }

type stubDialer struct{}

func (stubDialer) Place(context.Context, string, string) (string, error) {
	return "CA-out", nil
}

// newFactoryApp builds an app around mocks and hands back the stores the
// factory tests assert against.
func newFactoryApp(t *testing.T) (*App, *memorymock.SeniorStore, *memorymock.ConversationStore) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			PublicHost: "donna.test",
			LogLevel:   config.LogInfo,
		},
	}
	config.ApplyDefaults(cfg)

	seniors := &memorymock.SeniorStore{}
	convs := &memorymock.ConversationStore{}
	stores := Stores{
		Seniors:       seniors,
		Memories:      &memorymock.MemoryStore{},
		Reminders:     &memorymock.ReminderStore{},
		Deliveries:    &memorymock.DeliveryStore{},
		Daily:         &memorymock.DailyContextStore{},
		Conversations: convs,
		Analyses:      &memorymock.AnalysisStore{},
	}

	a, err := New(context.Background(), cfg, &Providers{
		Conversation: &llmmock.Provider{},
		STT:          &sttmock.Provider{},
		TTS:          &ttsmock.Provider{},
		Embeddings:   &embmock.Provider{},
	}, WithStores(stores), WithDialer(stubDialer{}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a, seniors, convs
}

func (a *App) liveCall(callSID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.calls[callSID]
	return ok
}

func TestCreateSessionKnownCaller(t *testing.T) {
	t.Parallel()

	a, seniors, convs := newFactoryApp(t)
	senior := &memory.Senior{
		ID:        "sen-1",
		FirstName: "Margaret",
		Phone:     "+15550001111",
	}
	seniors.ByPhoneResult = senior
	seniors.GetResult = senior

	sess, err := a.CreateSession(context.Background(), telephony.CallInfo{
		CallSID: "CA100",
		Caller:  "+15550001111",
	}, nullSink{})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.Task == nil || sess.Output == nil {
		t.Fatal("CreateSession() returned session without pipeline or output")
	}
	if !strings.Contains(sess.Greeting, "Margaret") {
		t.Errorf("Greeting = %q, want the senior's name in it", sess.Greeting)
	}
	if got := convs.CallCount("Create"); got != 1 {
		t.Errorf("conversation Create count = %d, want 1", got)
	}
	if !a.liveCall("CA100") {
		t.Error("call not registered as live")
	}

	// Closing hands the call to the post-call flow, which completes the
	// conversation row on its own goroutine.
	sess.OnClose("socket_closed")

	deadline := time.Now().Add(2 * time.Second)
	for convs.CallCount("Complete") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := convs.CallCount("Complete"); got != 1 {
		t.Errorf("conversation Complete count = %d, want 1", got)
	}
	if a.liveCall("CA100") {
		t.Error("call still registered after close")
	}
}

func TestCreateSessionUnknownCaller(t *testing.T) {
	t.Parallel()

	a, _, convs := newFactoryApp(t)

	sess, err := a.CreateSession(context.Background(), telephony.CallInfo{
		CallSID: "CA200",
		Caller:  "+15550009999",
	}, nullSink{})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.Greeting != "" {
		t.Errorf("Greeting = %q, want empty for an unmatched caller", sess.Greeting)
	}
	if got := convs.CallCount("Create"); got != 0 {
		t.Errorf("conversation Create count = %d, want 0", got)
	}

	// Unmatched callers skip the post-call flow entirely; the hook returns
	// synchronously.
	sess.OnClose("socket_closed")
	if got := convs.CallCount("Complete"); got != 0 {
		t.Errorf("conversation Complete count = %d, want 0", got)
	}
	if a.liveCall("CA200") {
		t.Error("call still registered after close")
	}
}

func TestCreateSessionPrefersStash(t *testing.T) {
	t.Parallel()

	a, seniors, convs := newFactoryApp(t)
	senior := &memory.Senior{ID: "sen-2", FirstName: "Rose", Phone: "+15550002222"}
	a.stash.PutCall("CA300", &callcontext.Prepared{
		Context:      &callcontext.CallContext{Senior: senior},
		SystemPrompt: "prefetched prompt",
		Greeting:     "Good morning, Rose!",
		Kind:         memory.CallReminder,
		CreatedAt:    time.Now(),
	})

	sess, err := a.CreateSession(context.Background(), telephony.CallInfo{
		CallSID: "CA300",
		Caller:  "+15550002222",
	}, nullSink{})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.Greeting != "Good morning, Rose!" {
		t.Errorf("Greeting = %q, want the stashed greeting", sess.Greeting)
	}
	// The stashed bundle answers everything; no store roundtrip.
	if got := seniors.CallCount("ByPhone") + seniors.CallCount("Get"); got != 0 {
		t.Errorf("senior lookups = %d, want 0", got)
	}

	calls := convs.Calls()
	if len(calls) != 1 {
		t.Fatalf("conversation store calls = %d, want 1", len(calls))
	}
	conv, ok := calls[0].Args[0].(memory.Conversation)
	if !ok {
		t.Fatalf("Create argument type = %T, want memory.Conversation", calls[0].Args[0])
	}
	if conv.Type != memory.CallReminder {
		t.Errorf("conversation type = %q, want %q", conv.Type, memory.CallReminder)
	}
	if conv.SeniorID != "sen-2" {
		t.Errorf("conversation senior = %q, want sen-2", conv.SeniorID)
	}
}

func TestCallKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prep   *callcontext.Prepared
		params map[string]string
		want   callsession.CallKind
	}{
		{"reminder bundle", &callcontext.Prepared{Kind: memory.CallReminder}, nil, callsession.KindReminder},
		{"outbound bundle", &callcontext.Prepared{Kind: memory.CallOutbound}, nil, callsession.KindScheduled},
		{"inbound bundle", &callcontext.Prepared{Kind: memory.CallInbound}, nil, callsession.KindCheckIn},
		{"reminder hint", nil, map[string]string{"kind": "reminder"}, callsession.KindReminder},
		{"scheduled hint", nil, map[string]string{"kind": "scheduled"}, callsession.KindScheduled},
		{"no hint", nil, nil, callsession.KindCheckIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := callKind(tt.prep, tt.params); got != tt.want {
				t.Errorf("callKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywordHints(t *testing.T) {
	t.Parallel()

	senior := &memory.Senior{
		FirstName: "Margaret",
		Family:    []string{"daughter Sarah in Portland"},
	}
	rems := []memory.Reminder{{Title: "Take Metoprolol after breakfast"}}

	hints := keywordHints(senior, rems)

	var words []string
	for _, h := range hints {
		words = append(words, h.Keyword)
	}
	want := []string{"Margaret", "Sarah", "Portland", "Metoprolol"}
	if len(words) != len(want) {
		t.Fatalf("keywordHints() = %v, want %v", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("keywordHints()[%d] = %q, want %q", i, words[i], want[i])
		}
	}
	if hints[0].Boost != keywordIntensity {
		t.Errorf("Boost = %v, want %v", hints[0].Boost, keywordIntensity)
	}
}

func TestKeywordHintsNoSenior(t *testing.T) {
	t.Parallel()

	hints := keywordHints(nil, []memory.Reminder{{Title: "Call Dr. Patel"}})
	if len(hints) != 1 || hints[0].Keyword != "Patel" {
		t.Errorf("keywordHints() = %v, want only Patel", hints)
	}
}
