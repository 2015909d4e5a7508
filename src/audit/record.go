package audit

import (
	"encoding/json"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/crypto"
)

// Record is one entry of the trail.
type Record struct {
	Sequence  uint64
	Event     string
	Fields    map[string]interface{}
	Timestamp time.Time
	PrevHash  string
	Hash      string
}

// computeHash covers everything but Hash.
func (r *Record) computeHash() (string, error) {
	unhashed := *r
	unhashed.Hash = ""
	b, err := json.Marshal(&unhashed)
	if err != nil {
		return "", err
	}
	return common.EncodeToString(crypto.SHA256(b)), nil
}
