package types

import "strings"

// Event is the typed record of one ledger transition. Type is namespaced by
// module, e.g. "datastore.confirmed"; attribute values are strings so events
// render identically in logs, RPC and the event index.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent returns an event of the given type with an empty attribute map.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attributes: make(map[string]string)}
}

// ModuleOf returns the module prefix of an event type, or "unknown" when the
// type carries no namespace.
func ModuleOf(eventType string) string {
	module, _, found := strings.Cut(strings.TrimSpace(eventType), ".")
	if !found || module == "" {
		return "unknown"
	}
	return module
}
