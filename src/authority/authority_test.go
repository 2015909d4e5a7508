package authority

import (
	"io/ioutil"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/crypto/keys"
)

func testHierarchy() Hierarchy {
	return Hierarchy{
		"1-DIV": {"1-BDE", "2-BDE"},
		"1-BDE": {"1-1-IN", "1-2-IN"},
	}
}

func testCertificate() Certificate {
	return Certificate{
		Issuer:  "DOD-CA",
		Subject: "1-1 IN S4",
	}
}

func newTestNode(t *testing.T, unit string) *Node {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	return NewNode(unit, key, testCertificate(), false, testHierarchy(), common.NewTestEntry(t, unit))
}

func strPtr(s string) *string {
	return &s
}

func newTransfer(from, to string, approval bool) *PropertyTransfer {
	return &PropertyTransfer{
		PropertyID:       "W95-0042",
		FromCustodian:    strPtr("SGT Alvarez"),
		FromUnit:         from,
		ToCustodian:      "SSG Okafor",
		ToUnit:           to,
		InitiatedBy:      "SGT Alvarez",
		RequiresApproval: approval,
		CreatedAt:        time.Now().UTC(),
	}
}

func sign(t *testing.T, n *Node, tr *PropertyTransfer, role Role) {
	if _, err := n.SignTransfer(tr, role); err != nil {
		t.Fatal(err)
	}
}

func TestHierarchyRelated(t *testing.T) {
	h := testHierarchy()

	cases := []struct {
		a, b string
		want bool
	}{
		{"1-1-IN", "1-1-IN", true},
		{"1-1-IN", "1-2-IN", true},
		{"1-BDE", "1-1-IN", true},
		{"1-1-IN", "1-BDE", true},
		{"1-BDE", "2-BDE", true},
		{"1-1-IN", "2-BDE", false},
		{"1-1-IN", "1-DIV", false},
		{"1-1-IN", "3-BDE", false},
	}

	for _, c := range cases {
		if got := h.Related(c.a, c.b); got != c.want {
			t.Fatalf("Related(%s, %s) should be %v", c.a, c.b, c.want)
		}
	}
}

func TestValidateTransfer(t *testing.T) {
	commander := newTestNode(t, "1-BDE")
	s4 := newTestNode(t, "1-1-IN")
	validator := newTestNode(t, "1-DIV")

	tr := newTransfer("1-1-IN", "1-2-IN", true)
	sign(t, s4, tr, SupplyOfficer)
	sign(t, commander, tr, Commander)

	if err := validator.ValidateTransfer(tr); err != nil {
		t.Fatalf("transfer should be valid: %v", err)
	}
}

func TestValidateTransferQuorum(t *testing.T) {
	commander := newTestNode(t, "1-BDE")
	s4 := newTestNode(t, "1-1-IN")

	noApproval := newTransfer("1-1-IN", "1-1-IN", false)
	sign(t, s4, noApproval, SupplyOfficer)
	if err := s4.ValidateTransfer(noApproval); err != nil {
		t.Fatalf("supply officer alone should suffice without approval: %v", err)
	}

	needsApproval := newTransfer("1-1-IN", "1-1-IN", true)
	sign(t, s4, needsApproval, SupplyOfficer)
	if err := s4.ValidateTransfer(needsApproval); !Is(err, MissingCommander) {
		t.Fatalf("expected MissingCommander, got %v", err)
	}

	commanderOnly := newTransfer("1-1-IN", "1-1-IN", true)
	sign(t, commander, commanderOnly, Commander)
	if err := s4.ValidateTransfer(commanderOnly); !Is(err, MissingSupplyOfficer) {
		t.Fatalf("expected MissingSupplyOfficer, got %v", err)
	}

	unsigned := newTransfer("1-1-IN", "1-1-IN", false)
	if err := s4.ValidateTransfer(unsigned); !Is(err, MissingSupplyOfficer) {
		t.Fatalf("expected MissingSupplyOfficer, got %v", err)
	}
}

func TestValidateTransferTampered(t *testing.T) {
	s4 := newTestNode(t, "1-1-IN")

	// tampered and missing a commander: integrity is reported first
	tr := newTransfer("1-1-IN", "1-2-IN", true)
	sign(t, s4, tr, SupplyOfficer)
	tr.ToCustodian = "PVT Mallory"

	if err := s4.ValidateTransfer(tr); !Is(err, InvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}

	forged := newTransfer("1-1-IN", "1-2-IN", false)
	sign(t, s4, forged, SupplyOfficer)
	other := newTestNode(t, "1-1-IN")
	forged.Signatures[0].SignerID = other.ID()
	if err := s4.ValidateTransfer(forged); !Is(err, InvalidSignature) {
		t.Fatalf("expected InvalidSignature for a wrong signer, got %v", err)
	}
}

func TestValidateTransferCommandChain(t *testing.T) {
	commander := newTestNode(t, "1-BDE")
	s4 := newTestNode(t, "1-1-IN")

	tr := newTransfer("1-1-IN", "2-BDE", true)
	sign(t, s4, tr, SupplyOfficer)
	sign(t, commander, tr, Commander)

	if err := s4.ValidateTransfer(tr); !Is(err, CommandChain) {
		t.Fatalf("expected CommandChain, got %v", err)
	}

	issue := newTransfer("", "2-BDE", false)
	issue.FromCustodian = nil
	sign(t, s4, issue, SupplyOfficer)
	if err := s4.ValidateTransfer(issue); err != nil {
		t.Fatalf("initial issue should skip containment: %v", err)
	}
}

func TestSignTransferExpiredCertificate(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	past := time.Now().Add(-time.Hour)
	cert := testCertificate()
	cert.ValidUntil = &past

	n := NewNode("1-1-IN", key, cert, false, testHierarchy(), common.NewTestEntry(t, "expired"))

	tr := newTransfer("1-1-IN", "1-2-IN", false)
	if _, err := n.SignTransfer(tr, SupplyOfficer); !Is(err, ExpiredCertificate) {
		t.Fatalf("expected ExpiredCertificate, got %v", err)
	}
	if len(tr.Signatures) != 0 {
		t.Fatalf("a refused signature should not be appended")
	}
}

func TestSignTransferAppends(t *testing.T) {
	n := newTestNode(t, "1-1-IN")
	cmd := newTestNode(t, "1-BDE")

	tr := newTransfer("1-1-IN", "1-2-IN", true)

	first, err := n.SignTransfer(tr, SupplyOfficer)
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Signatures) != 1 || tr.Signatures[0].SignerID != n.ID() {
		t.Fatalf("the signature should be appended to the transfer, got %d", len(tr.Signatures))
	}

	if _, err := cmd.SignTransfer(tr, Commander); err != nil {
		t.Fatal(err)
	}
	if len(tr.Signatures) != 2 {
		t.Fatalf("a second signature should grow the list by one, got %d", len(tr.Signatures))
	}
	if string(tr.Signatures[0].Signature) != string(first.Signature) {
		t.Fatalf("earlier signatures should be left untouched")
	}
	if err := n.ValidateTransfer(tr); err != nil {
		t.Fatalf("both signatures should verify: %v", err)
	}
}

func TestValidateCustodyChain(t *testing.T) {
	base := time.Now().UTC()

	t1 := newTransfer("1-1-IN", "1-1-IN", false)
	t1.FromCustodian = nil
	t1.ToCustodian = "A"
	t1.CreatedAt = base

	t2 := newTransfer("1-1-IN", "1-1-IN", false)
	t2.FromCustodian = strPtr("A")
	t2.ToCustodian = "B"
	t2.CreatedAt = base.Add(time.Minute)

	t3 := newTransfer("1-1-IN", "1-1-IN", false)
	t3.FromCustodian = strPtr("B")
	t3.ToCustodian = "C"
	t3.CreatedAt = base.Add(2 * time.Minute)

	if err := ValidateCustodyChain([]*PropertyTransfer{t1, t2, t3}); err != nil {
		t.Fatalf("chain should be continuous: %v", err)
	}

	t3.FromCustodian = strPtr("A")
	if err := ValidateCustodyChain([]*PropertyTransfer{t1, t2, t3}); !Is(err, BrokenCustody) {
		t.Fatalf("expected BrokenCustody, got %v", err)
	}

	t3.FromCustodian = strPtr("B")
	t3.CreatedAt = t2.CreatedAt
	if err := ValidateCustodyChain([]*PropertyTransfer{t1, t2, t3}); !Is(err, NonIncreasingTimestamp) {
		t.Fatalf("expected NonIncreasingTimestamp, got %v", err)
	}

	if err := ValidateCustodyChain(nil); err != nil {
		t.Fatalf("empty chain is trivially valid")
	}
}

func TestUpdateValidator(t *testing.T) {
	s4 := newTestNode(t, "1-1-IN")
	v := NewUpdateValidator(s4)

	a := newTransfer("1-1-IN", "1-2-IN", false)
	sign(t, s4, a, SupplyOfficer)
	b := newTransfer("1-2-IN", "1-1-IN", false)
	b.FromCustodian = strPtr(a.ToCustodian)
	b.ToCustodian = "SPC Reyes"
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	sign(t, s4, b, SupplyOfficer)

	pa, _ := a.Marshal()
	pb, _ := b.Marshal()

	if err := v.ValidateUpdate(pa); err != nil {
		t.Fatalf("single payload should validate: %v", err)
	}

	merged := append(append([]byte{}, pa...), pb...)
	transfers, err := DecodeTransfers(merged)
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 2 {
		t.Fatalf("merged payload should hold 2 transfers, not %d", len(transfers))
	}
	if err := v.ValidateUpdate(merged); err != nil {
		t.Fatalf("merged payload should validate: %v", err)
	}
	reversed := append(append([]byte{}, pb...), pa...)
	if err := v.ValidateUpdate(reversed); err != nil {
		t.Fatalf("transfers should be chained in creation order: %v", err)
	}

	// two handovers of the same item by the same custodian
	c := newTransfer("1-1-IN", "1-1-IN", false)
	c.ToCustodian = "PFC Nguyen"
	c.CreatedAt = a.CreatedAt.Add(time.Minute)
	sign(t, s4, c, SupplyOfficer)
	pc, _ := c.Marshal()
	if err := v.ValidateUpdate(append(append([]byte{}, pa...), pc...)); !Is(err, BrokenCustody) {
		t.Fatalf("expected BrokenCustody, got %v", err)
	}

	other := newTransfer("1-1-IN", "1-1-IN", false)
	other.PropertyID = "M4-1187"
	other.ToCustodian = "PFC Nguyen"
	sign(t, s4, other, SupplyOfficer)
	po, _ := other.Marshal()
	if err := v.ValidateUpdate(append(append([]byte{}, pa...), po...)); err != nil {
		t.Fatalf("transfers of different properties are not chained: %v", err)
	}

	unsigned := newTransfer("1-1-IN", "1-2-IN", false)
	pu, _ := unsigned.Marshal()
	if err := v.ValidateUpdate(append(append([]byte{}, pa...), pu...)); !Is(err, MissingSupplyOfficer) {
		t.Fatalf("expected MissingSupplyOfficer, got %v", err)
	}

	if err := v.ValidateUpdate([]byte("{not json")); !Is(err, Malformed) {
		t.Fatalf("expected Malformed, got %v", err)
	}
	if err := v.ValidateUpdate(nil); !Is(err, Malformed) {
		t.Fatalf("expected Malformed for an empty payload, got %v", err)
	}
}

func TestRecordID(t *testing.T) {
	if RecordID("W95-0042") != RecordID("W95-0042") {
		t.Fatalf("record ids should be deterministic")
	}
	if RecordID("W95-0042") == RecordID("W95-0043") {
		t.Fatalf("record ids should differ across properties")
	}
}

func TestIdentityFile(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "identity")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	until := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cert := testCertificate()
	cert.ValidUntil = &until

	id := &Identity{
		Unit:        "1-1-IN",
		Certificate: cert,
		Hierarchy:   testHierarchy(),
	}

	if err := WriteIdentity(dir, id); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Unit != id.Unit || !reflect.DeepEqual(loaded.Hierarchy, id.Hierarchy) {
		t.Fatalf("loaded identity should be %+v, not %+v", id, loaded)
	}
	if loaded.Certificate.ValidUntil == nil || !loaded.Certificate.ValidUntil.Equal(until) {
		t.Fatalf("certificate validity was not preserved")
	}
}
