package safety

// EventKind classifies diagnostic events emitted by the engine.
type EventKind string

const (
	EventInit             EventKind = "init"
	EventAuthFailure      EventKind = "auth_failure"
	EventEngaged          EventKind = "engaged"
	EventDisengaged       EventKind = "disengaged"
	EventViolation        EventKind = "violation"
	EventTxBlocked        EventKind = "tx_blocked"
	EventRelayMalfunction EventKind = "relay_malfunction"
	EventLagging          EventKind = "lagging"
)

// Disengage reasons.
const (
	ReasonCruiseOff        = "cruise_off"
	ReasonBrake            = "brake"
	ReasonGas              = "gas"
	ReasonViolation        = "violation"
	ReasonRelayMalfunction = "relay_malfunction"
	ReasonLagging          = "lagging"
	ReasonCruiseEngaged    = "cruise_engaged"
	ReasonNotWhitelisted   = "not_whitelisted"
)

// Event is a diagnostic record. Timestamp is the engine clock in microseconds.
type Event struct {
	Kind      EventKind
	Reason    string
	Bus       int
	Addr      uint32
	Value     int64
	Timestamp uint32
}

// Observer receives engine events synchronously, inside the hook that raised
// them. Implementations must not block and must not call back into the engine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) { f(ev) }
