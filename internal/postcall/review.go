package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/director"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

const (
	reviewTemp      = 0.3
	reviewMaxTokens = 600
)

const reviewSystemPrompt = `You are reviewing a completed phone call between Donna, a companion for older adults, and a senior. Summarise it for the care team. Reply with ONLY a JSON object, no prose, in exactly this shape:
{
  "summary": "two or three sentences on how the call went",
  "topics": ["..."],
  "engagement_score": 0,
  "concerns": ["anything the care team should look at"],
  "positive_observations": ["encouraging signs"],
  "follow_up_suggestions": ["topics or actions for the next call"],
  "call_quality": "good|degraded|poor"
}
engagement_score is 0-100: how present and talkative the senior was. Empty lists are valid answers.`

// review is the model's call review in its wire shape.
type review struct {
	Summary              string   `json:"summary"`
	Topics               []string `json:"topics"`
	EngagementScore      int      `json:"engagement_score"`
	Concerns             []string `json:"concerns"`
	PositiveObservations []string `json:"positive_observations"`
	FollowUpSuggestions  []string `json:"follow_up_suggestions"`
	CallQuality          string   `json:"call_quality"`
}

// review asks the model to assess the call. Silent calls skip the model
// and go straight to the default.
func (o *Orchestrator) review(ctx context.Context, sess *callsession.Session, transcript []types.TranscriptEntry, duration time.Duration) (*review, error) {
	if len(transcript) == 0 {
		return defaultReview(sess, 0), nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.provider.Complete(ctx, buildReviewRequest(sess, transcript, duration))
	if err != nil {
		return nil, fmt.Errorf("review completion: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return nil, fmt.Errorf("review completion: empty response")
	}
	return parseReview(resp.Content)
}

func buildReviewRequest(sess *callsession.Session, transcript []types.TranscriptEntry, duration time.Duration) llm.CompletionRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Call type: %s. Duration: %d minutes.\n", sess.Kind(), int(duration.Minutes()))
	if reason := sess.TerminationReason(); reason != "" {
		fmt.Fprintf(&b, "Call ended by: %s.\n", reason)
	}
	if delivered := sess.RemindersDelivered(); len(delivered) > 0 {
		fmt.Fprintf(&b, "Reminders delivered: %s.\n", strings.Join(delivered, "; "))
	}
	b.WriteString("Transcript:\n")
	for _, turn := range transcript {
		speaker := "Donna"
		if turn.Role == "user" {
			speaker = "Senior"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
	}

	return llm.CompletionRequest{
		SystemPrompt: reviewSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: b.String()}},
		Temperature:  reviewTemp,
		MaxTokens:    reviewMaxTokens,
	}
}

// parseReview decodes the model reply, strict parse first, then once more
// after [director.Repair] cleans up fences and truncation.
func parseReview(raw string) (*review, error) {
	var r review
	if err := json.Unmarshal([]byte(raw), &r); err == nil {
		normalizeReview(&r)
		return &r, nil
	}
	if err := json.Unmarshal([]byte(director.Repair(raw)), &r); err != nil {
		return nil, fmt.Errorf("postcall: unparseable review: %w", err)
	}
	normalizeReview(&r)
	return &r, nil
}

func normalizeReview(r *review) {
	if r.EngagementScore < 0 {
		r.EngagementScore = 0
	} else if r.EngagementScore > 100 {
		r.EngagementScore = 100
	}
	r.CallQuality = strings.ToLower(strings.TrimSpace(r.CallQuality))
	switch r.CallQuality {
	case "good", "degraded", "poor":
	default:
		r.CallQuality = "good"
	}
}

// defaultReview keeps the rest of finalisation fed when the model review is
// unavailable. It leans on what the session tracked itself, so the daily
// context still says what the call covered.
func defaultReview(sess *callsession.Session, turns int) *review {
	summary := fmt.Sprintf("Call of %d turns completed.", turns)
	if topics := sess.Topics(); len(topics) > 0 {
		summary = fmt.Sprintf("Call of %d turns completed; talked about %s.", turns, strings.Join(topics, ", "))
	}
	return &review{
		Summary:         summary,
		Topics:          sess.Topics(),
		EngagementScore: 50,
		CallQuality:     "good",
	}
}
