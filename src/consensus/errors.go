package consensus

import "fmt"

// ErrType enumerates consensus failures.
type ErrType uint32

const (
	// BelowMinValidators ...
	BelowMinValidators ErrType = iota
	// AboveMaxValidators ...
	AboveMaxValidators
	// DuplicateValidator ...
	DuplicateValidator
	// UnknownValidator ...
	UnknownValidator
	// EmptyBlock ...
	EmptyBlock
	// BlockTooLarge ...
	BlockTooLarge
	// InvalidBlock ...
	InvalidBlock
	// HeightMismatch ...
	HeightMismatch
	// PreviousHashMismatch ...
	PreviousHashMismatch
	// ChainNotActive ...
	ChainNotActive
	// AuditFailure ...
	AuditFailure
	// InvalidChain ...
	InvalidChain
	// InvalidConfig ...
	InvalidConfig
)

func (t ErrType) String() string {
	switch t {
	case BelowMinValidators:
		return "Below Min Validators"
	case AboveMaxValidators:
		return "Above Max Validators"
	case DuplicateValidator:
		return "Duplicate Validator"
	case UnknownValidator:
		return "Unknown Validator"
	case EmptyBlock:
		return "Empty Block"
	case BlockTooLarge:
		return "Block Too Large"
	case InvalidBlock:
		return "Invalid Block"
	case HeightMismatch:
		return "Height Mismatch"
	case PreviousHashMismatch:
		return "Previous Hash Mismatch"
	case ChainNotActive:
		return "Chain Not Active"
	case AuditFailure:
		return "Audit Failure"
	case InvalidChain:
		return "Invalid Chain"
	case InvalidConfig:
		return "Invalid Config"
	}
	return "Unknown"
}

// Err ...
type Err struct {
	errType ErrType
	detail  string
}

func newErr(t ErrType, format string, args ...interface{}) Err {
	return Err{errType: t, detail: fmt.Sprintf(format, args...)}
}

// Type ...
func (e Err) Type() ErrType {
	return e.errType
}

// Error ...
func (e Err) Error() string {
	if e.detail == "" {
		return e.errType.String()
	}
	return fmt.Sprintf("%s: %s", e.errType, e.detail)
}

// Is checks that err is an Err of type t.
func Is(err error, t ErrType) bool {
	cErr, ok := err.(Err)
	return ok && cErr.errType == t
}
