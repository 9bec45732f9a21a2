package core

// Config is the dispatcher-owned aggregate of the runtime-mutable module
// configuration. Only command handlers mutate it and only the module loop
// reads it, so it needs no synchronization. Wrap point and wrap mode live
// on the Decoder instead because the interrupt path reads them.
type Config struct {
	HostStream    bool // position/event records to the host channel
	PeriphStream  bool // prefixed raw position to the downstream channel
	EventsEnabled bool // threshold detector armed
	PeriphPrefix  byte // prefix byte of each peripheral record
	Thresholds    ThresholdSet
}
