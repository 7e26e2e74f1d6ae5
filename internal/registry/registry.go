// Package registry tracks command-list identity metadata.
//
// A completion event alone does not carry device or context identity, so the
// engine records it at list creation and resolves it at launch time. Lookup
// misses and duplicate registrations are collaborator protocol violations and
// are always surfaced, never defaulted.
package registry

import (
	"errors"
	"fmt"

	"github.com/mschilling0/pti-gpu/pkg/events"
)

var (
	// ErrDuplicateRegistration reports a Register call for a list identifier
	// that is already live.
	ErrDuplicateRegistration = errors.New("duplicate command list registration")

	// ErrUnknownCommandList reports a Lookup or Unregister for a list
	// identifier that was never registered or has been unregistered. The
	// correlation state is no longer trustworthy when this happens.
	ErrUnknownCommandList = errors.New("unknown command list")
)

// Entry is the identity metadata recorded for one command list.
type Entry struct {
	Context   events.ContextID
	Device    events.DeviceID
	Immediate bool
}

// CommandListRegistry maps live command-list identifiers to their entries.
//
// It carries no lock of its own: the collector serializes Register, Lookup
// and Unregister under its single mutual-exclusion domain so that
// lookup-then-insert sequences stay atomic with respect to concurrent
// launches and drains.
type CommandListRegistry struct {
	lists map[events.ListID]Entry
}

func NewCommandListRegistry() *CommandListRegistry {
	return &CommandListRegistry{
		lists: make(map[events.ListID]Entry),
	}
}

// Register records a newly created command list. A list identifier may be
// reused only after Unregister.
func (r *CommandListRegistry) Register(list events.ListID, e Entry) error {
	if _, ok := r.lists[list]; ok {
		return fmt.Errorf("%w: list %d", ErrDuplicateRegistration, list)
	}
	r.lists[list] = e
	return nil
}

// Lookup returns the entry for a live command list.
func (r *CommandListRegistry) Lookup(list events.ListID) (Entry, error) {
	e, ok := r.lists[list]
	if !ok {
		return Entry{}, fmt.Errorf("%w: list %d", ErrUnknownCommandList, list)
	}
	return e, nil
}

// Unregister removes a destroyed command list.
func (r *CommandListRegistry) Unregister(list events.ListID) error {
	if _, ok := r.lists[list]; !ok {
		return fmt.Errorf("%w: list %d", ErrUnknownCommandList, list)
	}
	delete(r.lists, list)
	return nil
}

// Len reports the number of live command lists.
func (r *CommandListRegistry) Len() int {
	return len(r.lists)
}
