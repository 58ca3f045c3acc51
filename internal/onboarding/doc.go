// Package onboarding drives the first-run wizard a new or incomplete profile must pass through.
//
// A [Machine] walks an ordered list of [Step] values, validates each step before letting the user
// move on, and persists progress to the profile store one completed step at a time. A failed step
// write never blocks the user: it is queued and retried, in order, on the next advance or folded
// into the final write.
package onboarding
