package chain

import "time"

// ValidatorStatus ...
type ValidatorStatus int

const (
	// ValidatorActive ...
	ValidatorActive ValidatorStatus = iota
	// ValidatorInactive ...
	ValidatorInactive
)

func (s ValidatorStatus) String() string {
	if s == ValidatorActive {
		return "Active"
	}
	return "Inactive"
}

// Validator is a node allowed to take part in block validation. ID is the
// node's public key hex.
type Validator struct {
	ID         string
	Moniker    string
	Status     ValidatorStatus
	LastActive time.Time
}

// NewValidator returns an active validator.
func NewValidator(id, moniker string) *Validator {
	return &Validator{
		ID:         id,
		Moniker:    moniker,
		Status:     ValidatorActive,
		LastActive: time.Now().UTC(),
	}
}
