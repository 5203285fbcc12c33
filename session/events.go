package session

// EventKind discriminates the alerts forwarded to the engine. Library alerts
// with no mapping here are dropped at the source.
type EventKind int

const (
	EventMetadataReceived EventKind = iota
	EventFinished
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMetadataReceived:
		return "metadata-received"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is a typed torrent alert keyed by info-hash.
type Event struct {
	Hash string
	Kind EventKind
	Err  error
}
