package replication

import (
	"context"
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/crypto"
	"github.com/handreceipt/ledger/src/net"
	"github.com/handreceipt/ledger/src/peers"
)

// serveSync answers sync RPCs on trans with m until done is closed.
func serveSync(m *Manager, trans net.Transport, done chan struct{}) {
	for {
		select {
		case rpc := <-trans.Consumer():
			switch cmd := rpc.Command.(type) {
			case *net.SendUpdatesRequest:
				err := m.HandleIncoming(cmd.Batch)
				rpc.Respond(&net.SendUpdatesResponse{FromID: m.self, Success: err == nil}, err)
			case *net.RequestUpdatesRequest:
				batch, err := m.Outstanding(cmd.FromID, cmd.Since)
				rpc.Respond(&net.RequestUpdatesResponse{FromID: m.self, Batch: batch}, err)
			}
		case <-done:
			return
		}
	}
}

func TestTransportExchanger(t *testing.T) {
	box, _ := crypto.NewSecretBoxFromPassphrase("field exercise")

	addrA, transA := net.NewInmemTransport("")
	addrB, transB := net.NewInmemTransport("")
	transA.Connect(addrB, transB)
	transB.Connect(addrA, transA)

	discA := &staticDiscovery{nodes: []peers.NodeInfo{{ID: "B", Address: addrB}}}
	discB := &staticDiscovery{nodes: []peers.NodeInfo{{ID: "A", Address: addrA}}}

	a := NewManager(testConfig(), "A", NewInmemStorage(), discA, NewTransportExchanger(transA, "A"), box, testValidator{}, nil, common.NewTestEntry(t, "A"))
	b := NewManager(testConfig(), "B", NewInmemStorage(), discB, NewTransportExchanger(transB, "B"), box, testValidator{}, nil, common.NewTestEntry(t, "B"))
	a.SetSleeper(noSleep)
	b.SetSleeper(noSleep)

	done := make(chan struct{})
	defer close(done)
	go serveSync(a, transA, done)
	go serveSync(b, transB, done)

	a.Enqueue("r1", []byte("from A"), 1, []string{"B"})
	b.Enqueue("r2", []byte("from B"), 1, nil)

	results, err := a.SyncCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if results["B"] != nil {
		t.Fatal(results["B"])
	}

	if u := record(t, b, "r1"); u == nil || string(u.Payload) != "from A" {
		t.Fatalf("B should have received r1")
	}
	if u := record(t, a, "r2"); u == nil || string(u.Payload) != "from B" {
		t.Fatalf("A should have pulled r2")
	}

	transA.Disconnect(addrB)
	a.Enqueue("r3", []byte("lost"), 1, []string{"B"})
	results, _ = a.SyncCycle(context.Background())
	if !Is(results["B"], RetryLimitExceeded) {
		t.Fatalf("expected RetryLimitExceeded on a disconnected peer, got %v", results["B"])
	}
}

func TestTransportExchangerContext(t *testing.T) {
	addrB, transB := net.NewInmemTransport("")
	_, transA := net.NewInmemTransport("")
	transA.Connect(addrB, transB)

	ex := NewTransportExchanger(transA, "A")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// nobody consumes transB so the call can only end with the context
	_, err := ex.RequestUpdates(ctx, peers.NodeInfo{ID: "B", Address: addrB}, time.Time{})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
