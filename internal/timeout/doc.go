// Package timeout arms a callback for the next occurrence of a schedule.
//
// Start asks the schedule for its next two occurrences relative to "now",
// turns the first usable one into a delay and arms a one-shot timer:
//   - occurrences closer than MinDelay are skipped in favour of the next one
//   - delays at or above MaxDelay are bridged by re-arming the scheduler itself
//     for exactly MaxDelay until the occurrence is in range
//   - with a timezone, "now" is the zone's wall-clock reading re-read as UTC
//
// A Timeout fires its callback at most once. Every re-invokes Start after each
// fire for callers that want the whole schedule.
package timeout
