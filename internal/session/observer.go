package session

// Observer receives session notifications. Calls are made synchronously
// from session goroutines, so implementations must not block.
type Observer interface {
	// StateChanged reports a session state transition. err is the fault
	// cause when entering StateFaulted, otherwise nil.
	StateChanged(deviceID string, state State, err error)

	// CommandResolved reports every resolved command.
	CommandResolved(deviceID string, cmd Command, resp Response, err error)

	// Anomaly reports a discarded frame.
	Anomaly(deviceID string, frame []byte, reason error)
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

// StateChanged implements Observer.
func (o Observers) StateChanged(deviceID string, state State, err error) {
	for _, obs := range o {
		obs.StateChanged(deviceID, state, err)
	}
}

// CommandResolved implements Observer.
func (o Observers) CommandResolved(deviceID string, cmd Command, resp Response, err error) {
	for _, obs := range o {
		obs.CommandResolved(deviceID, cmd, resp, err)
	}
}

// Anomaly implements Observer.
func (o Observers) Anomaly(deviceID string, frame []byte, reason error) {
	for _, obs := range o {
		obs.Anomaly(deviceID, frame, reason)
	}
}
