// Package authority implements the signing authority of a node: it signs
// property transfers with the node's key and decides whether a transfer
// carries enough valid signatures, from the right roles, within the chain of
// command, to be recorded.
//
// Validation runs three checks in order and stops at the first failure:
//
//	1. every signature verifies against its signer's public key
//	2. the approval quorum is met: a SupplyOfficer always, plus a Commander
//	   when the transfer requires approval
//	3. the losing and gaining units are in the same command chain: the same
//	   unit, parent and child, or siblings under a common parent
package authority
