// Package alarm implements the daily brightness alarm engine.
//
// The engine sits on top of a one-shot timer subsystem (see
// internal/alarmclock) and turns it into a daily recurrence:
//
//	Scheduler.Schedule -> timer armed -> FireHandler.OnFire
//	  -> brightness applied -> id parsed -> Scheduler.Schedule (next day)
//
// Identifiers follow "<label>_<hour>_<minute>" so a fired occurrence can
// rebuild its own schedule. Tokens are derived from identifiers, so
// re-scheduling an id replaces its previous occurrence.
package alarm
