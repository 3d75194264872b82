package scheduler

import (
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
)

const (
	// dueWindow pulls one-shot reminders that come due within the next
	// poll period, so a reminder scheduled between ticks is not a tick
	// late.
	dueWindow = time.Minute

	// recurringSlack is how far either side of the daily clock time a
	// recurring reminder still fires.
	recurringSlack = 5 * time.Minute
)

// occurrence computes the instance r is due for at now, if any.
//
// A one-shot reminder's instance is its scheduled instant; it is due from
// one dueWindow before that instant onward, so an occurrence missed while
// the process was down still fires on recovery. A recurring reminder gets
// a fresh instance every senior-local calendar day at the stored clock
// time, due within recurringSlack either side of it. The returned instant
// is the occurrence identity the delivery store keys on: together with the
// reminder ID it pins one occurrence across ticks and retries.
func occurrence(r memory.Reminder, now time.Time, loc *time.Location) (time.Time, bool) {
	if !r.Recurring {
		return r.ScheduledTime, !r.ScheduledTime.After(now.Add(dueWindow))
	}

	// The stored value's clock digits are senior-local wall time; its date
	// and zone carry no meaning for a recurring reminder.
	local := now.In(loc)
	occ := time.Date(local.Year(), local.Month(), local.Day(),
		r.ScheduledTime.Hour(), r.ScheduledTime.Minute(), 0, 0, loc)

	diff := now.Sub(occ)
	if diff < 0 {
		diff = -diff
	}
	return occ, diff <= recurringSlack
}
