// Package alarmclock is a durable one-shot timer service.
//
// Occurrences are keyed by token and persisted before they are armed, so a
// restart restores them; overdue ones are delivered on Start. A delivery
// consumes its record only after the handler returns, which makes delivery
// at-least-once across crashes. Optionally the earliest wake occurrence is
// programmed into the RTC so a suspended host resumes in time.
package alarmclock
