package authority

import "time"

// Certificate binds the node's key to an issuing authority for a validity
// window. A nil bound is open.
type Certificate struct {
	Issuer     string     `json:"issuer"`
	Subject    string     `json:"subject"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// ValidAt reports whether t falls inside the validity window.
func (c Certificate) ValidAt(t time.Time) bool {
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && t.After(*c.ValidUntil) {
		return false
	}
	return true
}
