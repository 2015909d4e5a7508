package authority

import "fmt"

// Role is the capacity in which someone signs a transfer.
type Role int

const (
	// Commander approves transfers that require approval.
	Commander Role = iota
	// SupplyOfficer must sign every transfer.
	SupplyOfficer
	// PropertyBook ...
	PropertyBook
	// Custodian ...
	Custodian
)

var roleNames = []string{"Commander", "SupplyOfficer", "PropertyBook", "Custodian"}

func (r Role) String() string {
	if r < Commander || r > Custodian {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// MarshalText ...
func (r Role) MarshalText() ([]byte, error) {
	if r < Commander || r > Custodian {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText ...
func (r *Role) UnmarshalText(text []byte) error {
	for i, n := range roleNames {
		if n == string(text) {
			*r = Role(i)
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", text)
}
