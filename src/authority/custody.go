package authority

import "fmt"

// ValidateCustodyChain checks that consecutive transfers of a property hand it
// over without gaps: each transfer starts from the custodian the previous one
// ended with, and timestamps strictly increase.
func ValidateCustodyChain(transfers []*PropertyTransfer) error {
	for i := 1; i < len(transfers); i++ {
		prev, cur := transfers[i-1], transfers[i]

		subject := fmt.Sprintf("transfer %d of %s", i, cur.PropertyID)

		if cur.PropertyID != prev.PropertyID {
			return newErr(BrokenCustody, subject, fmt.Sprintf("property changed from %s", prev.PropertyID))
		}
		if cur.FromCustodian == nil || *cur.FromCustodian != prev.ToCustodian {
			from := "<none>"
			if cur.FromCustodian != nil {
				from = *cur.FromCustodian
			}
			return newErr(BrokenCustody, subject, fmt.Sprintf("from %s, expected %s", from, prev.ToCustodian))
		}
		if !cur.CreatedAt.After(prev.CreatedAt) {
			return newErr(NonIncreasingTimestamp, subject, "")
		}
	}
	return nil
}
