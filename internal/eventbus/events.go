package eventbus

// Event types published by the alarm engine.
const (
	AlarmScheduled = "alarm.scheduled"
	AlarmCancelled = "alarm.cancelled"
	AlarmFired     = "alarm.fired"
	AlarmSwept     = "alarm.swept"
	ConfigReloaded = "config.reloaded"
)

// AlarmEvent is the Data of alarm.* events.
type AlarmEvent struct {
	ID       string
	OK       bool
	Err      string
	NextFire string // RFC3339, empty when not re-armed
}
