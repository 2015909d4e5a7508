package peers

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/crypto/keys"
)

func testPeers(t *testing.T, n int) []*Peer {
	res := []*Peer{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		res = append(res, NewPeer(keys.PublicKeyHex(&key.PublicKey), fmt.Sprintf("addr%d", i), fmt.Sprintf("node%d", i)))
	}
	return res
}

func TestJSONPeerSet(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "peers")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store := NewJSONPeerSet(dir)

	if _, err := store.PeerSet(); err == nil {
		t.Fatalf("reading a missing peers.json should fail")
	}

	peers := testPeers(t, 3)
	// operators sometimes write lower case keys
	raw := peers[1].PubKeyHex
	peers[1].PubKeyHex = "0x" + raw[2:]

	if err := store.Write(peers); err != nil {
		t.Fatal(err)
	}

	ps, err := store.PeerSet()
	if err != nil {
		t.Fatal(err)
	}
	if ps.Len() != 3 {
		t.Fatalf("expected 3 peers, got %d", ps.Len())
	}
	if _, ok := ps.ByPubKey[raw]; !ok {
		t.Fatalf("public keys should be normalised")
	}
	if ps.Peers[2].Moniker != "node2" || ps.Peers[2].NetAddr != "addr2" {
		t.Fatalf("peer fields were not preserved: %+v", ps.Peers[2])
	}
}

func TestPeerSetUpdates(t *testing.T) {
	peers := testPeers(t, 3)
	ps := NewPeerSet(peers[:2])

	grown := ps.WithNewPeer(peers[2])
	if grown.Len() != 3 || ps.Len() != 2 {
		t.Fatalf("WithNewPeer should not modify the original set")
	}
	if same := grown.WithNewPeer(peers[2]); same.Len() != 3 {
		t.Fatalf("adding an existing peer should be a no-op")
	}

	shrunk := grown.WithRemovedPeer(peers[0])
	if shrunk.Len() != 2 {
		t.Fatalf("expected 2 peers, got %d", shrunk.Len())
	}
	if _, ok := shrunk.ByPubKey[peers[0].PubKeyHex]; ok {
		t.Fatalf("removed peer is still indexed")
	}

	if peers[0].ID() == 0 || peers[0].ID() == peers[1].ID() {
		t.Fatalf("peer ids should be derived from public keys")
	}
}

func TestDiscovery(t *testing.T) {
	peers := testPeers(t, 3)
	self := peers[0].NodeID()

	d := NewDiscovery(NewPeerSet(peers), self, time.Minute)

	now := time.Now()
	d.now = func() time.Time { return now }

	active := d.ActiveNodes()
	if len(active) != 2 {
		t.Fatalf("expected 2 active nodes, got %d", len(active))
	}
	for _, n := range active {
		if n.ID == self {
			t.Fatalf("self should not be listed")
		}
	}

	d.MarkDown(peers[1].NodeID())
	if len(d.ActiveNodes()) != 1 {
		t.Fatalf("peer marked down should be quarantined")
	}

	now = now.Add(2 * time.Minute)
	if len(d.ActiveNodes()) != 2 {
		t.Fatalf("peer should be back after the quarantine")
	}

	d.MarkDown(peers[2].NodeID())
	d.MarkSeen(peers[2].NodeID())
	for _, n := range d.ActiveNodes() {
		if n.ID == peers[2].NodeID() && !n.LastSeen.Equal(now) {
			t.Fatalf("LastSeen should be updated")
		}
	}
	if len(d.ActiveNodes()) != 2 {
		t.Fatalf("a seen peer should not be quarantined")
	}
}
