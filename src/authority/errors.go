package authority

import "fmt"

// ErrType enumerates the reasons a transfer is refused.
type ErrType uint32

const (
	// InvalidSignature ...
	InvalidSignature ErrType = iota
	// MissingSupplyOfficer ...
	MissingSupplyOfficer
	// MissingCommander ...
	MissingCommander
	// CommandChain ...
	CommandChain
	// ExpiredCertificate ...
	ExpiredCertificate
	// BrokenCustody ...
	BrokenCustody
	// NonIncreasingTimestamp ...
	NonIncreasingTimestamp
	// Malformed ...
	Malformed
)

func (t ErrType) String() string {
	switch t {
	case InvalidSignature:
		return "Invalid Signature"
	case MissingSupplyOfficer:
		return "Missing Supply Officer Signature"
	case MissingCommander:
		return "Missing Commander Signature"
	case CommandChain:
		return "Outside Command Chain"
	case ExpiredCertificate:
		return "Certificate Not Valid"
	case BrokenCustody:
		return "Broken Custody Chain"
	case NonIncreasingTimestamp:
		return "Non Increasing Timestamp"
	case Malformed:
		return "Malformed Transfer"
	}
	return "Unknown"
}

// Err is the error returned by transfer validation.
type Err struct {
	errType ErrType
	subject string
	detail  string
}

func newErr(t ErrType, subject, detail string) Err {
	return Err{errType: t, subject: subject, detail: detail}
}

// Type ...
func (e Err) Type() ErrType {
	return e.errType
}

// Error ...
func (e Err) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("%s, %s", e.subject, e.errType)
	}
	return fmt.Sprintf("%s, %s: %s", e.subject, e.errType, e.detail)
}

// Is checks that err is an Err of type t.
func Is(err error, t ErrType) bool {
	aErr, ok := err.(Err)
	return ok && aErr.errType == t
}
