package authority

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/handreceipt/ledger/src/crypto/keys"
	"github.com/sirupsen/logrus"
)

// Node is the signing authority of a unit.
type Node struct {
	id          string
	unit        string
	key         *ecdsa.PrivateKey
	certificate Certificate
	primary     bool
	hierarchy   Hierarchy

	logger *logrus.Entry
}

// NewNode ...
func NewNode(unit string,
	key *ecdsa.PrivateKey,
	cert Certificate,
	primary bool,
	hierarchy Hierarchy,
	logger *logrus.Entry) *Node {

	if hierarchy == nil {
		hierarchy = Hierarchy{}
	}

	if logger == nil {
		logger = logrus.New().WithField("prefix", "authority")
	}

	return &Node{
		id:          keys.PublicKeyHex(&key.PublicKey),
		unit:        unit,
		key:         key,
		certificate: cert,
		primary:     primary,
		hierarchy:   hierarchy,
		logger:      logger,
	}
}

// ID is the public key hex of the node.
func (n *Node) ID() string {
	return n.id
}

// Unit ...
func (n *Node) Unit() string {
	return n.unit
}

// Primary reports whether this authority proposes blocks.
func (n *Node) Primary() bool {
	return n.primary
}

// Key ...
func (n *Node) Key() *ecdsa.PrivateKey {
	return n.key
}

// Certificate ...
func (n *Node) Certificate() Certificate {
	return n.certificate
}

// Hierarchy ...
func (n *Node) Hierarchy() Hierarchy {
	return n.hierarchy
}

// SignTransfer signs the canonical content of the transfer in the given role
// and appends the signature to the transfer. Existing signatures are left
// untouched.
func (n *Node) SignTransfer(t *PropertyTransfer, role Role) (TransferSignature, error) {
	now := time.Now().UTC()

	if !n.certificate.ValidAt(now) {
		return TransferSignature{}, newErr(ExpiredCertificate, n.certificate.Subject, "")
	}

	msg, err := t.SigningBytes()
	if err != nil {
		return TransferSignature{}, newErr(Malformed, t.PropertyID, err.Error())
	}

	sig, err := keys.SignMessage(n.key, msg)
	if err != nil {
		return TransferSignature{}, err
	}

	ts := TransferSignature{
		SignerID:  n.id,
		UnitCode:  n.unit,
		Role:      role,
		Signature: sig,
		Timestamp: now,
	}
	t.AddSignature(ts)

	return ts, nil
}

// ValidateTransfer returns nil if the transfer may be recorded. Otherwise it
// returns an Err naming the first failed check.
func (n *Node) ValidateTransfer(t *PropertyTransfer) error {
	if err := n.verifySignatures(t); err != nil {
		return err
	}
	if err := verifyQuorum(t); err != nil {
		return err
	}
	if err := n.verifyCommandChain(t); err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"property":   t.PropertyID,
		"to":         t.ToCustodian,
		"signatures": len(t.Signatures),
	}).Debug("Transfer valid")

	return nil
}

func (n *Node) verifySignatures(t *PropertyTransfer) error {
	msg, err := t.SigningBytes()
	if err != nil {
		return newErr(Malformed, t.PropertyID, err.Error())
	}

	for i, sig := range t.Signatures {
		pub, err := keys.ParsePublicKeyHex(sig.SignerID)
		if err != nil {
			return newErr(InvalidSignature, t.PropertyID, fmt.Sprintf("signature %d: %v", i, err))
		}
		if !keys.VerifyMessage(pub, msg, sig.Signature) {
			return newErr(InvalidSignature, t.PropertyID, fmt.Sprintf("signature %d by %s (%s)", i, sig.Role, sig.UnitCode))
		}
	}

	return nil
}

func verifyQuorum(t *PropertyTransfer) error {
	var commander, supply bool
	for _, sig := range t.Signatures {
		switch sig.Role {
		case Commander:
			commander = true
		case SupplyOfficer:
			supply = true
		}
	}

	if !supply {
		return newErr(MissingSupplyOfficer, t.PropertyID, "")
	}
	if t.RequiresApproval && !commander {
		return newErr(MissingCommander, t.PropertyID, "")
	}
	return nil
}

func (n *Node) verifyCommandChain(t *PropertyTransfer) error {
	if t.ToUnit == "" {
		return newErr(Malformed, t.PropertyID, "missing gaining unit")
	}
	// initial issues have no losing unit
	if t.FromUnit == "" {
		return nil
	}
	if !n.hierarchy.Related(t.FromUnit, t.ToUnit) {
		return newErr(CommandChain, t.PropertyID, fmt.Sprintf("%s -> %s", t.FromUnit, t.ToUnit))
	}
	return nil
}
