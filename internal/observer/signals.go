package observer

// Hit is one rule match against an utterance. The optional fields carry
// whatever the matched [Rule] declared for its category.
type Hit struct {
	Label      string
	Severity   string
	Valence    string
	Intensity  string
	Strength   string
	Confidence float64
	Outcome    string
}

// Signals is the bundle of everything the rule table noticed in a single
// final transcript, grouped by category.
type Signals struct {
	Safety          []Hit
	EndOfLife       []Hit
	ADL             []Hit
	Cognitive       []Hit
	Hydration       []Hit
	Health          []Hit
	HelpRequests    []Hit
	Emotion         []Hit
	Family          []Hit
	Social          []Hit
	Activities      []Hit
	TimeReferences  []Hit
	Environment     []Hit
	Transportation  []Hit
	News            []Hit
	Goodbye         []Hit
	Questions       []Hit
	Engagement      []Hit
	Acknowledgments []Hit
}

// Analyze runs the full rule table over text and returns the grouped hits.
func Analyze(text string) *Signals {
	sig := &Signals{}
	for _, r := range allRules {
		if !r.Pattern.MatchString(text) {
			continue
		}
		h := Hit{
			Label:      r.Label,
			Severity:   r.Severity,
			Valence:    r.Valence,
			Intensity:  r.Intensity,
			Strength:   r.Strength,
			Confidence: r.Confidence,
			Outcome:    r.Outcome,
		}
		switch r.Category {
		case CategorySafety:
			sig.Safety = append(sig.Safety, h)
		case CategoryEndOfLife:
			sig.EndOfLife = append(sig.EndOfLife, h)
		case CategoryADL:
			sig.ADL = append(sig.ADL, h)
		case CategoryCognitive:
			sig.Cognitive = append(sig.Cognitive, h)
		case CategoryHydration:
			sig.Hydration = append(sig.Hydration, h)
		case CategoryHealth:
			sig.Health = append(sig.Health, h)
		case CategoryHelpRequest:
			sig.HelpRequests = append(sig.HelpRequests, h)
		case CategoryEmotion:
			sig.Emotion = append(sig.Emotion, h)
		case CategoryFamily:
			sig.Family = append(sig.Family, h)
		case CategorySocial:
			sig.Social = append(sig.Social, h)
		case CategoryActivities:
			sig.Activities = append(sig.Activities, h)
		case CategoryTimeReference:
			sig.TimeReferences = append(sig.TimeReferences, h)
		case CategoryEnvironment:
			sig.Environment = append(sig.Environment, h)
		case CategoryTransportation:
			sig.Transportation = append(sig.Transportation, h)
		case CategoryNews:
			sig.News = append(sig.News, h)
		case CategoryGoodbye:
			sig.Goodbye = append(sig.Goodbye, h)
		case CategoryQuestion:
			sig.Questions = append(sig.Questions, h)
		case CategoryEngagement:
			sig.Engagement = append(sig.Engagement, h)
		case CategoryAcknowledgment:
			sig.Acknowledgments = append(sig.Acknowledgments, h)
		}
	}
	return sig
}

// Empty reports whether no rule matched at all.
func (s *Signals) Empty() bool {
	return len(s.Safety) == 0 && len(s.EndOfLife) == 0 && len(s.ADL) == 0 &&
		len(s.Cognitive) == 0 && len(s.Hydration) == 0 && len(s.Health) == 0 &&
		len(s.HelpRequests) == 0 && len(s.Emotion) == 0 && len(s.Family) == 0 &&
		len(s.Social) == 0 && len(s.Activities) == 0 && len(s.TimeReferences) == 0 &&
		len(s.Environment) == 0 && len(s.Transportation) == 0 && len(s.News) == 0 &&
		len(s.Goodbye) == 0 && len(s.Questions) == 0 && len(s.Engagement) == 0 &&
		len(s.Acknowledgments) == 0
}

// StrongGoodbye reports whether any strong farewell rule matched.
func (s *Signals) StrongGoodbye() bool {
	for _, h := range s.Goodbye {
		if h.Strength == "strong" {
			return true
		}
	}
	return false
}

// BestAcknowledgment returns the highest-confidence reminder acknowledgment
// hit, if any matched.
func (s *Signals) BestAcknowledgment() (Hit, bool) {
	var best Hit
	found := false
	for _, h := range s.Acknowledgments {
		if !found || h.Confidence > best.Confidence {
			best = h
			found = true
		}
	}
	return best, found
}

// CriticalEndOfLife reports whether a critical-severity end-of-life rule
// matched, as opposed to an ordinary mortality or grief reference.
func (s *Signals) CriticalEndOfLife() bool {
	return hasSeverity(s.EndOfLife, "critical")
}

// StrongestNegativeEmotion returns the most intense negative emotion hit.
func (s *Signals) StrongestNegativeEmotion() (Hit, bool) {
	var best Hit
	found := false
	for _, h := range s.Emotion {
		if h.Valence != "negative" {
			continue
		}
		if !found || intensityRank(h.Intensity) > intensityRank(best.Intensity) {
			best = h
			found = true
		}
	}
	return best, found
}

// PositiveEmotion reports whether any positive emotion rule matched.
func (s *Signals) PositiveEmotion() bool {
	for _, h := range s.Emotion {
		if h.Valence == "positive" {
			return true
		}
	}
	return false
}

func hasSeverity(hits []Hit, severity string) bool {
	for _, h := range hits {
		if h.Severity == severity {
			return true
		}
	}
	return false
}

func intensityRank(intensity string) int {
	switch intensity {
	case "high":
		return 2
	case "medium":
		return 1
	}
	return 0
}
