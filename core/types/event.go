package types

// AttrOrderHash is the attribute that ties an event to an escrow.
const AttrOrderHash = "orderHash"

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// OrderHash returns the escrow the event refers to, if any.
func (e *Event) OrderHash() string { return e.Attr(AttrOrderHash) }
