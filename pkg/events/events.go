// Package events defines the normalized device events consumed by the
// collector engine. Driver-specific callback surfaces (Level Zero tracing
// layers, replay logs) are adapters that translate their native shapes into
// these variants; the engine itself never sees a driver API.
package events

// ListID identifies a command list for the lifetime of its registration.
// The driver may reuse an identifier once the list has been destroyed.
type ListID uint64

// ContextID identifies the context a command list executes under.
type ContextID uint64

// DeviceID identifies the device a command list executes on.
type DeviceID uint64

// EventID identifies a completion event. Zero means "no signal event was
// supplied"; the engine allocates a throwaway event of its own in that case.
type EventID uint64

// Kind discriminates the event variants.
type Kind int

const (
	KindInvalid Kind = iota
	// KindListCreated announces a new command list and its identity metadata.
	KindListCreated
	// KindListDestroyed announces command-list destruction. Outstanding
	// launches on the list are drained first; any still incomplete are
	// discarded.
	KindListDestroyed
	// KindLaunch is one kernel submission on a command list.
	KindLaunch
	// KindEventCompleted is an explicit out-of-band completion: the
	// application destroys or resets a signal event, so the engine must
	// resolve the matching launch now or never.
	KindEventCompleted
	// KindSynchronize is a bulk checkpoint (queue or list synchronize); every
	// completed launch becomes observable.
	KindSynchronize
)

// Event is the single variant type fed to the engine. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind Kind

	List      ListID
	Context   ContextID
	Device    DeviceID
	Immediate bool

	// Launch payload.
	Name   string
	Width  uint32
	Signal EventID
}

func (k Kind) String() string {
	switch k {
	case KindListCreated:
		return "list_created"
	case KindListDestroyed:
		return "list_destroyed"
	case KindLaunch:
		return "launch"
	case KindEventCompleted:
		return "event_completed"
	case KindSynchronize:
		return "synchronize"
	default:
		return "invalid"
	}
}
