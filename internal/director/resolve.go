package director

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/agewell-labs/donna/pkg/memory"
)

// reminderMatchThreshold is the minimum Jaro-Winkler similarity for a
// model-named reminder to resolve onto a pending one.
const reminderMatchThreshold = 0.82

// resolveReminder maps the analysis' loose reminder name onto the canonical
// title of the closest pending reminder. Models paraphrase ("heart pills"
// for "Take your heart pill") and the session's delivered set matches by
// exact folded title, so the canonical title is what must be recorded.
// An unresolvable name is returned as-is; it is still worth recording.
func resolveReminder(which string, pending []memory.Reminder) string {
	which = strings.TrimSpace(which)
	if which == "" || len(pending) == 0 {
		return which
	}
	lower := strings.ToLower(which)

	best, bestScore := "", 0.0
	for _, r := range pending {
		if r.ID == which || strings.EqualFold(r.Title, which) {
			return r.Title
		}
		title := strings.ToLower(r.Title)
		if strings.Contains(title, lower) || strings.Contains(lower, title) {
			return r.Title
		}
		if score := matchr.JaroWinkler(lower, title, false); score > bestScore {
			best, bestScore = r.Title, score
		}
	}
	if bestScore >= reminderMatchThreshold {
		return best
	}
	return which
}
