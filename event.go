package gscan

import "fmt"

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	case EventTypeBusError:
		return "BUSERR"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
	// EventTypeBusError carries a CAN error frame reported by the device.
	EventTypeBusError
)

type Event struct {
	Type    EventType
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type.String(), e.Details)
}
