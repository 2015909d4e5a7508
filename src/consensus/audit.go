package consensus

// AuditLogger records security-relevant events. The Engine writes one before
// every change to its state.
type AuditLogger interface {
	LogEvent(event string, fields map[string]interface{}) error
}

// Audit event names.
const (
	EventValidatorAdded   = "validator_added"
	EventValidatorRemoved = "validator_removed"
	EventValidatorStatus  = "validator_status"
	EventBlockCommitted   = "block_committed"
	EventChainReplaced    = "chain_replaced"
	EventChainStatus      = "chain_status"
)
