package authority

import "sort"

// UpdateValidator checks replicated payloads with an authority Node before the
// sync manager accepts or forwards them.
type UpdateValidator struct {
	node *Node
}

// NewUpdateValidator ...
func NewUpdateValidator(node *Node) *UpdateValidator {
	return &UpdateValidator{node: node}
}

// ValidateUpdate decodes every transfer in the payload and validates each.
// Transfers of the same property, taken in creation order, must also form a
// continuous custody chain.
func (v *UpdateValidator) ValidateUpdate(payload []byte) error {
	transfers, err := DecodeTransfers(payload)
	if err != nil {
		return err
	}

	byProperty := make(map[string][]*PropertyTransfer)
	for _, t := range transfers {
		if err := v.node.ValidateTransfer(t); err != nil {
			return err
		}
		byProperty[t.PropertyID] = append(byProperty[t.PropertyID], t)
	}

	for _, chain := range byProperty {
		if len(chain) < 2 {
			continue
		}
		sort.SliceStable(chain, func(i, j int) bool {
			return chain[i].CreatedAt.Before(chain[j].CreatedAt)
		})
		if err := ValidateCustodyChain(chain); err != nil {
			return err
		}
	}
	return nil
}
