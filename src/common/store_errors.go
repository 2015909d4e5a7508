package common

import "fmt"

// StoreErrType enumerates the failures a ledger store can report.
type StoreErrType uint32

const (
	// KeyNotFound is returned when a lookup misses.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned when an insert collides with a stored key.
	KeyAlreadyExists
	// Empty is returned when a store holds nothing to return.
	Empty
	// Closed is returned by operations on a closed store or transaction.
	Closed
	// Corrupted is returned when a stored value cannot be decoded.
	Corrupted
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Empty:
		m = "Empty"
	case Closed:
		m = "Closed"
	case Corrupted:
		m = "Corrupted"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
