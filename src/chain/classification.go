package chain

import "fmt"

// Classification is the security marking of a transaction or block. Values are
// ordered, so a block's classification is the maximum of its transactions'.
type Classification int

const (
	// Unclassified ...
	Unclassified Classification = iota
	// Confidential ...
	Confidential
	// Secret ...
	Secret
	// TopSecret ...
	TopSecret
)

var classificationNames = []string{"UNCLASSIFIED", "CONFIDENTIAL", "SECRET", "TOP_SECRET"}

func (c Classification) String() string {
	if c < Unclassified || c > TopSecret {
		return fmt.Sprintf("Classification(%d)", int(c))
	}
	return classificationNames[c]
}

// MarshalText implements encoding.TextMarshaler.
func (c Classification) MarshalText() ([]byte, error) {
	if c < Unclassified || c > TopSecret {
		return nil, fmt.Errorf("invalid classification %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Classification) UnmarshalText(text []byte) error {
	for i, n := range classificationNames {
		if n == string(text) {
			*c = Classification(i)
			return nil
		}
	}
	return fmt.Errorf("unknown classification %q", text)
}

// MaxClassification returns the highest marking among txs, Unclassified if
// there are none.
func MaxClassification(txs []*Transaction) Classification {
	max := Unclassified
	for _, tx := range txs {
		if tx.Classification > max {
			max = tx.Classification
		}
	}
	return max
}
