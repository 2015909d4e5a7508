package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/crypto"
	"github.com/handreceipt/ledger/src/peers"
)

type testValidator struct{}

func (testValidator) ValidateUpdate(payload []byte) error {
	if bytes.Contains(payload, []byte("forged")) {
		return errors.New("forged transfer")
	}
	if bytes.Count(payload, []byte("handover")) > 1 {
		return errors.New("competing handovers")
	}
	return nil
}

type staticDiscovery struct {
	nodes []peers.NodeInfo
}

func (d *staticDiscovery) ActiveNodes() []peers.NodeInfo {
	return d.nodes
}

type testClock struct {
	sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
}

// testNetwork links managers directly and can simulate failures.
type testNetwork struct {
	sync.Mutex
	managers     map[string]*Manager
	sendFailures map[string]int
	hangRequests map[string]int
	sends        map[string]int
	requests     map[string]int
}

func newTestNetwork() *testNetwork {
	return &testNetwork{
		managers:     make(map[string]*Manager),
		sendFailures: make(map[string]int),
		hangRequests: make(map[string]int),
		sends:        make(map[string]int),
		requests:     make(map[string]int),
	}
}

type testExchanger struct {
	net  *testNetwork
	from string
}

func (e *testExchanger) SendUpdates(ctx context.Context, node peers.NodeInfo, sealed []byte) error {
	n := e.net
	n.Lock()
	n.sends[node.ID]++
	if n.sendFailures[node.ID] > 0 {
		n.sendFailures[node.ID]--
		n.Unlock()
		return errors.New("link down")
	}
	m := n.managers[node.ID]
	n.Unlock()

	if m == nil {
		return fmt.Errorf("unknown node %s", node.ID)
	}
	return m.HandleIncoming(sealed)
}

func (e *testExchanger) RequestUpdates(ctx context.Context, node peers.NodeInfo, since time.Time) ([]byte, error) {
	n := e.net
	n.Lock()
	n.requests[node.ID]++
	if n.hangRequests[node.ID] > 0 {
		n.hangRequests[node.ID]--
		n.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := n.managers[node.ID]
	n.Unlock()

	if m == nil {
		return nil, fmt.Errorf("unknown node %s", node.ID)
	}
	return m.Outstanding(e.from, since)
}

func testConfig() *Config {
	conf := DefaultConfig()
	conf.Rounds.Jitter = 0
	conf.Send.Jitter = 0
	conf.Receive.Jitter = 0
	conf.ReceiveTimeout = 20 * time.Millisecond
	return conf
}

func newTestManager(t *testing.T, id string, network *testNetwork, clock *testClock, others ...string) *Manager {
	box, err := crypto.NewSecretBoxFromPassphrase("field exercise")
	if err != nil {
		t.Fatal(err)
	}

	disc := &staticDiscovery{}
	for _, o := range others {
		disc.nodes = append(disc.nodes, peers.NodeInfo{ID: o, Address: o})
	}

	m := NewManager(
		testConfig(),
		id,
		NewInmemStorage(),
		disc,
		&testExchanger{net: network, from: id},
		box,
		testValidator{},
		nil,
		common.NewTestEntry(t, id),
	)
	m.SetSleeper(noSleep)
	m.now = clock.Now

	network.Lock()
	network.managers[id] = m
	network.Unlock()

	return m
}

// record returns the version of a record standing on a node.
func record(t *testing.T, m *Manager, id string) *SyncUpdate {
	copies, err := m.storage.GetUpdates(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(copies) == 0 {
		return nil
	}
	rep, err := m.Current(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range copies {
		if !c.SameContent(rep) {
			t.Fatalf("copies of %s on %s disagree: %v / %v", id, m.self, c, rep)
		}
	}
	return rep
}

func copyFor(t *testing.T, m *Manager, id, dest string) *SyncUpdate {
	copies, err := m.storage.GetUpdates(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range copies {
		if c.Destination == dest {
			return c
		}
	}
	t.Fatalf("no copy of %s for %q on %s", id, dest, m.self)
	return nil
}

func TestSyncDeliversUpdates(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	b := newTestManager(t, "B", network, clock, "A")

	var accepted []*SyncUpdate
	b.SetOnAccepted(func(u *SyncUpdate) { accepted = append(accepted, u) })

	if _, err := a.Enqueue("rec1", []byte("rifle 1234 to 2nd squad"), 1, []string{"B", "A"}); err != nil {
		t.Fatal(err)
	}

	if copies, _ := a.storage.GetUpdates("rec1"); len(copies) != 2 {
		t.Fatalf("expected a local copy and a copy for B, got %d", len(copies))
	}

	clock.Advance(time.Second)
	results, err := a.SyncCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := results["B"]; err != nil {
		t.Fatalf("sync with B failed: %v", err)
	}

	got := record(t, b, "rec1")
	if got == nil || string(got.Payload) != "rifle 1234 to 2nd squad" {
		t.Fatalf("B did not receive the update: %v", got)
	}
	if got.Status != Completed || got.Destination != "" || got.OriginID != "A" {
		t.Fatalf("received update has wrong bookkeeping: %v", got)
	}

	if c := copyFor(t, a, "rec1", "B"); c.Status != Completed {
		t.Fatalf("sent update should be Completed, not %s", c.Status)
	}

	if len(accepted) != 1 || accepted[0].ID != "rec1" {
		t.Fatalf("OnAccepted should fire once for rec1, got %d", len(accepted))
	}

	ps := a.PeerStates()["B"]
	if !ps.LastSync.Equal(clock.Now()) || ps.FailedAttempts != 0 || ps.PendingUpdates != 0 {
		t.Fatalf("unexpected peer state: %+v", ps)
	}
}

func TestConcurrentTransfersConverge(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	b := newTestManager(t, "B", network, clock, "A")

	if _, err := a.Enqueue("prop-77", []byte("custodian: 1LT Rivera"), 1, []string{"B"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	if _, err := b.Enqueue("prop-77", []byte("custodian: SSG Okafor"), 1, []string{"A"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)

	results, err := a.SyncCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if results["B"] != nil {
		t.Fatal(results["B"])
	}

	ra, rb := record(t, a, "prop-77"), record(t, b, "prop-77")
	if !ra.SameContent(rb) {
		t.Fatalf("nodes diverge after one round: %s / %s", ra.Payload, rb.Payload)
	}
	if string(ra.Payload) != "custodian: SSG Okafor" {
		t.Fatalf("the later transfer should win, got %s", ra.Payload)
	}

	clock.Advance(time.Second)
	if results, _ := b.SyncCycle(context.Background()); results["A"] != nil {
		t.Fatal(results["A"])
	}

	ra, rb = record(t, a, "prop-77"), record(t, b, "prop-77")
	if !ra.SameContent(rb) || string(ra.Payload) != "custodian: SSG Okafor" {
		t.Fatalf("nodes diverge after the second round")
	}
}

func TestFullTieMerges(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	b := newTestManager(t, "B", network, clock, "A")

	a.Enqueue("prop-9", []byte("[a]"), 2, []string{"B"})
	b.Enqueue("prop-9", []byte("[b]"), 2, []string{"A"})
	clock.Advance(time.Second)

	if results, _ := a.SyncCycle(context.Background()); results["B"] != nil {
		t.Fatal(results["B"])
	}

	ra, rb := record(t, a, "prop-9"), record(t, b, "prop-9")
	if !ra.SameContent(rb) {
		t.Fatalf("nodes diverge: %s / %s", ra.Payload, rb.Payload)
	}
	if len(ra.Payload) != 6 || !bytes.Contains(ra.Payload, []byte("[a]")) || !bytes.Contains(ra.Payload, []byte("[b]")) {
		t.Fatalf("expected a concatenation of both payloads, got %s", ra.Payload)
	}
	if ra.Priority != 2 {
		t.Fatalf("merged priority should be 2, not %d", ra.Priority)
	}

	if c := copyFor(t, b, "prop-9", "A"); c.Status != Pending {
		t.Fatalf("merged copies should be Pending for re-sync, not %s", c.Status)
	}

	clock.Advance(time.Second)
	if results, _ := b.SyncCycle(context.Background()); results["A"] != nil {
		t.Fatal(results["A"])
	}
	if c := copyFor(t, b, "prop-9", "A"); c.Status != Completed {
		t.Fatalf("re-synced merge should be Completed, not %s", c.Status)
	}
	if !record(t, a, "prop-9").SameContent(record(t, b, "prop-9")) {
		t.Fatalf("nodes diverge after re-sync")
	}
}

func TestInvalidMergeSettles(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	b := newTestManager(t, "B", network, clock, "A")

	if _, err := a.Enqueue("prop-5", []byte("handover: 1LT Rivera"), 1, []string{"B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Enqueue("prop-5", []byte("handover: SSG Okafor"), 1, []string{"A"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)

	if results, _ := a.SyncCycle(context.Background()); results["B"] != nil {
		t.Fatal(results["B"])
	}

	ra, rb := record(t, a, "prop-5"), record(t, b, "prop-5")
	if !ra.SameContent(rb) {
		t.Fatalf("nodes diverge: %s / %s", ra.Payload, rb.Payload)
	}
	if bytes.Count(ra.Payload, []byte("handover")) != 1 {
		t.Fatalf("an invalid merge should not be stored, got %s", ra.Payload)
	}

	want := NewSyncUpdate("prop-5", "A", "", []byte("handover: 1LT Rivera"), 1, t0)
	other := NewSyncUpdate("prop-5", "B", "", []byte("handover: SSG Okafor"), 1, t0)
	if other.Checksum < want.Checksum {
		want = other
	}
	if string(ra.Payload) != string(want.Payload) {
		t.Fatalf("the lower checksum should stand, got %s", ra.Payload)
	}
}

func TestSendFailureFailsWholeBatch(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	newTestManager(t, "B", network, clock, "A")

	a.Enqueue("r1", []byte("one"), 1, []string{"B"})
	a.Enqueue("r2", []byte("two"), 2, []string{"B"})

	network.sendFailures["B"] = 1000

	for cycle := 1; cycle <= 3; cycle++ {
		clock.Advance(time.Second)
		results, err := a.SyncCycle(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !Is(results["B"], RetryLimitExceeded) {
			t.Fatalf("cycle %d: expected RetryLimitExceeded, got %v", cycle, results["B"])
		}

		if sends := network.sends["B"]; sends != 3*cycle {
			t.Fatalf("cycle %d: expected %d send attempts, got %d", cycle, 3*cycle, sends)
		}

		c1, c2 := copyFor(t, a, "r1", "B"), copyFor(t, a, "r2", "B")
		if c1.RetryCount != cycle || c2.RetryCount != cycle {
			t.Fatalf("cycle %d: retry counts %d and %d", cycle, c1.RetryCount, c2.RetryCount)
		}
		if c1.Status != c2.Status {
			t.Fatalf("cycle %d: batch left in a mixed state (%s, %s)", cycle, c1.Status, c2.Status)
		}
		want := Pending
		if cycle == 3 {
			want = Failed
		}
		if c1.Status != want {
			t.Fatalf("cycle %d: expected %s, got %s", cycle, want, c1.Status)
		}
	}

	if ps := a.PeerStates()["B"]; ps.FailedAttempts != 3 || ps.PendingUpdates != 2 || ps.LastError == "" {
		t.Fatalf("unexpected peer state: %+v", ps)
	}

	if pending, _ := a.storage.FetchPendingUpdates(a.conf.MaxRetries); len(pending) != 0 {
		t.Fatalf("failed updates should not be fetched")
	}

	n, err := a.CleanupFailedUpdates()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 archived updates, got %d", n)
	}
	if failed, _ := a.storage.FailedUpdates(); len(failed) != 0 {
		t.Fatalf("failed updates should be gone")
	}
	if archived, _ := a.storage.Archived(); len(archived) != 2 {
		t.Fatalf("expected 2 archived updates")
	}
}

func TestReceiveTimeoutIsRetried(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	newTestManager(t, "B", network, clock, "A")

	a.Enqueue("r1", []byte("one"), 1, []string{"B"})
	network.hangRequests["B"] = 1

	results, _ := a.SyncCycle(context.Background())
	if results["B"] != nil {
		t.Fatalf("a single timeout should be retried, got %v", results["B"])
	}
	if network.requests["B"] != 2 {
		t.Fatalf("expected 2 requests, got %d", network.requests["B"])
	}
	if network.sends["B"] != 1 {
		t.Fatalf("the send step should not be repeated, got %d sends", network.sends["B"])
	}
	if c := copyFor(t, a, "r1", "B"); c.Status != Completed {
		t.Fatalf("expected Completed, got %s", c.Status)
	}
}

func TestReceiveTimeoutsExhaustRounds(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	newTestManager(t, "B", network, clock, "A")

	a.Enqueue("r1", []byte("one"), 1, []string{"B"})
	network.hangRequests["B"] = 1000

	results, _ := a.SyncCycle(context.Background())
	if !Is(results["B"], RetryLimitExceeded) {
		t.Fatalf("expected RetryLimitExceeded after all rounds, got %v", results["B"])
	}
	if network.requests["B"] != 9 {
		t.Fatalf("expected 3 rounds of 3 requests, got %d", network.requests["B"])
	}
	if network.sends["B"] != 3 {
		t.Fatalf("expected one send per round, got %d", network.sends["B"])
	}
	if c := copyFor(t, a, "r1", "B"); c.Status != Pending || c.RetryCount != 1 {
		t.Fatalf("expected Pending with 1 retry, got %v", c)
	}
}

func TestValidationFailureNotRetried(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	newTestManager(t, "B", network, clock, "A")

	if _, err := a.Enqueue("r1", []byte("forged signature"), 1, []string{"B"}); !Is(err, Validation) {
		t.Fatalf("Enqueue should reject invalid payloads, got %v", err)
	}

	put(t, a.storage, NewSyncUpdate("r2", "A", "B", []byte("forged orders"), 1, t0))

	results, _ := a.SyncCycle(context.Background())
	if !Is(results["B"], Validation) {
		t.Fatalf("expected Validation error, got %v", results["B"])
	}
	if network.sends["B"] != 0 {
		t.Fatalf("invalid batches should never be sent")
	}
	if c := copyFor(t, a, "r2", "B"); c.RetryCount != 1 || c.Status != Pending {
		t.Fatalf("expected Pending with 1 retry, got %v", c)
	}
}

func TestInvalidReceivedUpdatesRejected(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	b := newTestManager(t, "B", network, clock, "A")

	forged := NewSyncUpdate("r1", "B", "", []byte("forged"), 1, t0).WithStatus(Completed, t0)
	tampered := NewSyncUpdate("r2", "B", "", []byte("genuine"), 1, t0).WithStatus(Completed, t0)
	tampered.Payload = []byte("altered")
	put(t, b.storage, forged, tampered)
	b.Enqueue("r3", []byte("genuine"), 1, nil)

	results, _ := a.SyncCycle(context.Background())
	if results["B"] != nil {
		t.Fatal(results["B"])
	}

	if record(t, a, "r1") != nil || record(t, a, "r2") != nil {
		t.Fatalf("invalid updates should be dropped")
	}
	if record(t, a, "r3") == nil {
		t.Fatalf("valid updates should be accepted")
	}
}

func TestOutstandingOneVersionPerRecord(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B", "C")

	a.Enqueue("r1", []byte("one"), 1, []string{"B", "C"})
	put(t, a.storage, NewSyncUpdate("r2", "A", "B", []byte("two"), 1, t0).WithStatus(Failed, t0.Add(time.Second)))

	sealed, err := a.Outstanding("B", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := a.open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if b.From != "A" {
		t.Fatalf("batch should come from A, not %s", b.From)
	}
	if len(b.Updates) != 1 || b.Updates[0].ID != "r1" {
		t.Fatalf("expected r1 only, got %v", b.Updates)
	}
	if b.Updates[0].Destination != "" || b.Updates[0].RetryCount != 0 {
		t.Fatalf("local bookkeeping should not be sent")
	}

	if _, err := a.transport.Decrypt(append([]byte{}, sealed[:10]...)); err == nil {
		t.Fatalf("truncated batches should not decrypt")
	}
}

func TestCleanupOldSyncData(t *testing.T) {
	network := newTestNetwork()
	clock := &testClock{now: t0}
	a := newTestManager(t, "A", network, clock, "B")
	newTestManager(t, "B", network, clock, "A")

	a.Enqueue("r1", []byte("one"), 1, []string{"B"})
	a.SyncCycle(context.Background())

	clock.Advance(10 * 24 * time.Hour)
	a.Enqueue("r2", []byte("two"), 1, []string{"B"})

	n, err := a.CleanupOldSyncData(7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected the 2 old completed copies of r1 to go, got %d", n)
	}
	if record(t, a, "r1") != nil {
		t.Fatalf("r1 should be cleaned up")
	}
	if record(t, a, "r2") == nil {
		t.Fatalf("r2 is recent and should stay")
	}
	if _, ok := a.PeerStates()["B"]; ok {
		t.Fatalf("stale peer state should be pruned")
	}
}
