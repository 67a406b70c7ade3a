package model

import "time"

type UsageCategory string

const (
	UsageFullExam     UsageCategory = "full_exam"
	UsagePartPractice UsageCategory = "part_practice"
)

func ParseUsageCategory(s string) (UsageCategory, bool) {
	switch UsageCategory(s) {
	case UsageFullExam, UsagePartPractice:
		return UsageCategory(s), true
	}
	return "", false
}

// UsageCounter is a per-user, per-category daily counter. Count only grows
// within the same UTC calendar day as LastResetAt; crossing the boundary
// resets it atomically with the increment that observed the rollover.
type UsageCounter struct {
	UserID      string
	Category    UsageCategory
	Count       int
	LastResetAt time.Time
}

// SameUTCDay compares calendar date components in UTC. Epoch-day arithmetic
// would drift around DST-shifted local clocks, calendar fields do not.
func SameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// NextUTCMidnight returns the moment the counter next resets.
func NextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
