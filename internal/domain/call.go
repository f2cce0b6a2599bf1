package domain

// CallState is the lifecycle state of a room's single call session.
// Keep values stable because they surface in logs and view bindings.
type CallState string

const (
	// CallIdle is the initial and terminal state: no call.
	CallIdle CallState = "idle"
	// CallOffering means the local doctor sent an offer and is waiting
	// for the patient's answer.
	CallOffering CallState = "offering"
	// CallRingingIncoming means the local patient holds a remote offer
	// that has not been accepted or declined yet.
	CallRingingIncoming CallState = "ringing"
	// CallActive means offer/answer completed on this side.
	CallActive CallState = "active"
)
