package consensus

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/chain"
	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/crypto/keys"
)

type recordingAudit struct {
	sync.Mutex
	events []string
	fail   bool
}

func (a *recordingAudit) LogEvent(event string, fields map[string]interface{}) error {
	a.Lock()
	defer a.Unlock()
	if a.fail {
		return errors.New("audit sink unavailable")
	}
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) count(event string) int {
	a.Lock()
	defer a.Unlock()
	n := 0
	for _, e := range a.events {
		if e == event {
			n++
		}
	}
	return n
}

type testEngine struct {
	*Engine
	audit *recordingAudit
	key   *ecdsa.PrivateKey
}

func newTestEngine(t *testing.T, conf *Config) *testEngine {
	audit := &recordingAudit{}
	e, err := NewEngine(conf, chain.NewInmemStore(), audit, common.NewTestEntry(t, "consensus"))
	if err != nil {
		t.Fatal(err)
	}

	key, _ := keys.GenerateECDSAKey()
	if err := e.AddValidator(chain.NewValidator(keys.PublicKeyHex(&key.PublicKey), "primary")); err != nil {
		t.Fatal(err)
	}

	return &testEngine{Engine: e, audit: audit, key: key}
}

func testTxs(n int) []*chain.Transaction {
	txs := make([]*chain.Transaction, n)
	for i := range txs {
		txs[i] = chain.NewTransaction([]byte(fmt.Sprintf("transfer %d", i)), chain.Unclassified)
	}
	return txs
}

// proposeAndCommit seals txs into a signed block and commits it.
func (e *testEngine) proposeAndCommit(t *testing.T, txs []*chain.Transaction) *chain.Block {
	b, err := e.ProposeBlock(txs)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Sign(e.key); err != nil {
		t.Fatal(err)
	}
	committed, err := e.CommitBlock(b)
	if err != nil {
		t.Fatal(err)
	}
	return committed
}

func TestValidatorBounds(t *testing.T) {
	conf := DefaultConfig()
	conf.MaxValidators = 2
	e := newTestEngine(t, conf)

	if err := e.AddValidator(chain.NewValidator("B", "b")); err != nil {
		t.Fatal(err)
	}
	if err := e.AddValidator(chain.NewValidator("C", "c")); !Is(err, AboveMaxValidators) {
		t.Fatalf("expected AboveMaxValidators, got %v", err)
	}
	if err := e.AddValidator(chain.NewValidator("B", "b")); !Is(err, DuplicateValidator) {
		t.Fatalf("expected DuplicateValidator, got %v", err)
	}

	if err := e.RemoveValidator("B"); err != nil {
		t.Fatal(err)
	}
	last := e.Validators()[0].ID
	if err := e.RemoveValidator(last); !Is(err, BelowMinValidators) {
		t.Fatalf("expected BelowMinValidators, got %v", err)
	}
	if err := e.RemoveValidator("Z"); !Is(err, UnknownValidator) {
		t.Fatalf("expected UnknownValidator, got %v", err)
	}

	if n := e.audit.count(EventValidatorAdded); n != 2 {
		t.Fatalf("expected 2 validator_added events, got %d", n)
	}
	if n := e.audit.count(EventValidatorRemoved); n != 1 {
		t.Fatalf("expected 1 validator_removed event, got %d", n)
	}
}

func TestInconsistentConfig(t *testing.T) {
	conf := DefaultConfig()
	conf.MinValidators = 5
	conf.MaxValidators = 3
	if _, err := NewEngine(conf, chain.NewInmemStore(), &recordingAudit{}, common.NewTestEntry(t, "consensus")); !Is(err, InvalidConfig) {
		t.Fatalf("expected InvalidConfig for min > max validators, got %v", err)
	}

	conf = DefaultConfig()
	conf.MinDifficulty = 20
	if _, err := NewEngine(conf, chain.NewInmemStore(), &recordingAudit{}, common.NewTestEntry(t, "consensus")); !Is(err, InvalidConfig) {
		t.Fatalf("expected InvalidConfig for min > max difficulty, got %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	conf := DefaultConfig()
	conf.MinValidators = 3

	e, err := NewEngine(conf, chain.NewInmemStore(), &recordingAudit{}, common.NewTestEntry(t, "consensus"))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Bootstrap([]*chain.Validator{chain.NewValidator("A", "a")}); !Is(err, BelowMinValidators) {
		t.Fatalf("expected BelowMinValidators, got %v", err)
	}

	e, _ = NewEngine(conf, chain.NewInmemStore(), &recordingAudit{}, common.NewTestEntry(t, "consensus"))
	err = e.Bootstrap([]*chain.Validator{
		chain.NewValidator("A", "a"),
		chain.NewValidator("B", "b"),
		chain.NewValidator("C", "c"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(e.ActiveValidators()) != 3 {
		t.Fatalf("expected 3 active validators, got %d", len(e.ActiveValidators()))
	}
}

func TestAuditBeforeMutation(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	e.audit.fail = true

	if err := e.AddValidator(chain.NewValidator("B", "b")); !Is(err, AuditFailure) {
		t.Fatalf("expected AuditFailure, got %v", err)
	}
	if len(e.Validators()) != 1 {
		t.Fatalf("validator set should be unchanged")
	}

	e.audit.fail = false
	b, _ := e.ProposeBlock(testTxs(2))
	b.Sign(e.key)
	e.audit.fail = true

	if _, err := e.CommitBlock(b); !Is(err, AuditFailure) {
		t.Fatalf("expected AuditFailure, got %v", err)
	}
	if e.ChainState().Height != 0 {
		t.Fatalf("chain should be unchanged")
	}
}

func TestActiveValidators(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	e.AddValidator(chain.NewValidator("B", "b"))

	if err := e.SetValidatorStatus("B", chain.ValidatorInactive); err != nil {
		t.Fatal(err)
	}

	active := e.ActiveValidators()
	if len(active) != 1 || active[0].ID == "B" {
		t.Fatalf("B should not be active")
	}
	if len(e.Validators()) != 2 {
		t.Fatalf("B should still be a validator")
	}
}

func TestProposeBlock(t *testing.T) {
	conf := DefaultConfig()
	conf.MaxBlockSize = 32
	conf.MinDifficulty = 3
	e := newTestEngine(t, conf)

	if _, err := e.ProposeBlock(nil); !Is(err, EmptyBlock) {
		t.Fatalf("expected EmptyBlock, got %v", err)
	}

	big := []*chain.Transaction{chain.NewTransaction(make([]byte, 33), chain.Unclassified)}
	if _, err := e.ProposeBlock(big); !Is(err, BlockTooLarge) {
		t.Fatalf("expected BlockTooLarge, got %v", err)
	}

	b, err := e.ProposeBlock(testTxs(2))
	if err != nil {
		t.Fatal(err)
	}
	if b.Height() != 1 || b.Header.PreviousHash != "" || b.Header.Difficulty != 3 {
		t.Fatalf("unexpected header %+v", b.Header)
	}
	if e.ChainState().Height != 0 {
		t.Fatalf("proposing should not commit")
	}
}

func TestValidateBlock(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	b, _ := e.ProposeBlock(testTxs(3))

	res := e.ValidateBlock(b)
	if res.Valid {
		t.Fatalf("unsigned block should be invalid")
	}
	if c := res.Failures(Critical); len(c) != 1 || c[0].Rule != "signed" {
		t.Fatalf("expected a single 'signed' failure, got %+v", c)
	}

	b.Sign(e.key)
	if res = e.ValidateBlock(b); !res.Valid {
		t.Fatalf("signed block should be valid: %s", res)
	}

	heavy, _ := e.ProposeBlock(testTxs(3))
	heavy.Header.Difficulty = 1000
	heavy.Sign(e.key)
	res = e.ValidateBlock(heavy)
	if c := res.Failures(Critical); res.Valid || len(c) != 1 || c[0].Rule != "difficulty" {
		t.Fatalf("difficulty out of bounds should be critical, got %+v", c)
	}

	if err := e.SetValidatorStatus(keys.PublicKeyHex(&e.key.PublicKey), chain.ValidatorInactive); err != nil {
		t.Fatal(err)
	}
	if e.ValidateBlock(b).Valid {
		t.Fatalf("block signed only by an inactive validator should be invalid")
	}
	if err := e.SetValidatorStatus(keys.PublicKeyHex(&e.key.PublicKey), chain.ValidatorActive); err != nil {
		t.Fatal(err)
	}

	tampered, _ := e.ProposeBlock(testTxs(3))
	tampered.Sign(e.key)
	tampered.Transactions[1].Payload = []byte("forged")
	res = e.ValidateBlock(tampered)
	if res.Valid {
		t.Fatalf("tampered transactions should invalidate the block")
	}
	if c := res.Failures(Critical); len(c) != 1 || c[0].Rule != "merkle-root" {
		t.Fatalf("expected a merkle-root failure, got %+v", c)
	}

	stranger, _ := keys.GenerateECDSAKey()
	foreign, _ := e.ProposeBlock(testTxs(1))
	foreign.Sign(stranger)
	if e.ValidateBlock(foreign).Valid {
		t.Fatalf("block signed by an unknown validator should be invalid")
	}

	secret := testTxs(1)
	secret[0].Classification = chain.Secret
	under, _ := e.ProposeBlock(secret)
	under.Header.Classification = chain.Unclassified
	under.Sign(e.key)
	if e.ValidateBlock(under).Valid {
		t.Fatalf("under-classified block should be invalid")
	}
}

func TestCommitBlock(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	b1 := e.proposeAndCommit(t, testTxs(2))
	if b1.ConfirmedAt == nil {
		t.Fatalf("committed block should be confirmed")
	}

	st := e.ChainState()
	if st.Height != 1 || st.TransactionCount != 2 || st.LastBlockHash != b1.Hex() {
		t.Fatalf("unexpected state %+v", st)
	}

	if _, err := e.CommitBlock(b1); !Is(err, HeightMismatch) {
		t.Fatalf("expected HeightMismatch, got %v", err)
	}

	orphan, _ := chain.NewBlock(2, "0XDEADBEEF", testTxs(1), 1)
	orphan.Sign(e.key)
	if _, err := e.CommitBlock(orphan); !Is(err, PreviousHashMismatch) {
		t.Fatalf("expected PreviousHashMismatch, got %v", err)
	}

	b2 := e.proposeAndCommit(t, testTxs(1))
	if b2.Header.PreviousHash != b1.Hex() {
		t.Fatalf("block 2 should link to block 1")
	}

	if n := e.audit.count(EventBlockCommitted); n != 2 {
		t.Fatalf("expected 2 block_committed events, got %d", n)
	}
}

func TestChainStatus(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	if err := e.Suspend(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ProposeBlock(testTxs(1)); !Is(err, ChainNotActive) {
		t.Fatalf("expected ChainNotActive, got %v", err)
	}
	if err := e.Resume(); err != nil {
		t.Fatal(err)
	}
	e.proposeAndCommit(t, testTxs(1))

	if err := e.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := e.Resume(); !Is(err, ChainNotActive) {
		t.Fatalf("halted chain should not resume, got %v", err)
	}
}

func TestReplaceChain(t *testing.T) {
	long := newTestEngine(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		long.proposeAndCommit(t, testTxs(2))
	}

	short := newTestEngine(t, DefaultConfig())
	short.proposeAndCommit(t, testTxs(1))

	// the long chain is signed by a validator short does not know
	blocks, _ := long.Blocks()
	if err := short.ReplaceChain(blocks); !Is(err, InvalidChain) {
		t.Fatalf("expected InvalidChain, got %v", err)
	}

	short.AddValidator(chain.NewValidator(keys.PublicKeyHex(&long.key.PublicKey), "long"))
	if err := short.ReplaceChain(blocks); err != nil {
		t.Fatal(err)
	}

	st := short.ChainState()
	if st.Height != 3 || st.LastBlockHash != blocks[2].Hex() {
		t.Fatalf("short should have adopted the long chain, got %+v", st)
	}

	d, _ := short.CumulativeDifficulty()
	if d != 3 {
		t.Fatalf("cumulative difficulty should be 3, not %d", d)
	}

	broken := []*chain.Block{blocks[0], blocks[2]}
	if err := short.ValidateChain(broken); !Is(err, InvalidChain) {
		t.Fatalf("expected InvalidChain for a gap, got %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	conf := DefaultConfig()
	conf.MaxValidators = 100
	e := newTestEngine(t, conf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			e.AddValidator(chain.NewValidator(fmt.Sprintf("V%02d", i), ""))
		}(i)
		go func() {
			defer wg.Done()
			b, err := e.ProposeBlock(testTxs(1))
			if err == nil {
				e.ValidateBlock(b)
			}
			e.ActiveValidators()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("concurrent access deadlocked")
	}

	if n := len(e.Validators()); n != 11 {
		t.Fatalf("expected 11 validators, got %d", n)
	}
}
