package models

// TransportEventKind discriminates transport lifecycle notifications.
type TransportEventKind string

const (
	TransportOpen    TransportEventKind = "open"
	TransportMessage TransportEventKind = "message"
	TransportError   TransportEventKind = "error"
	TransportClosed  TransportEventKind = "closed"
	TransportStatus  TransportEventKind = "status"
)

// TransportEvent is one notification from the transport collaborator.
// Payload is set for message events, Err for error events, Status for
// status-change events.
type TransportEvent struct {
	Kind    TransportEventKind
	Payload []byte
	Err     error
	Status  string
}
