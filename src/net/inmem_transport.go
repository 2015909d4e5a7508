package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generated UUID as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport Implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    time.Second,
	}
	return addr, trans
}

// SetTimeout changes how long an RPC waits for its response.
func (i *InmemTransport) SetTimeout(timeout time.Duration) {
	i.Lock()
	defer i.Unlock()
	i.timeout = timeout
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// SendUpdates implements the Transport interface.
func (i *InmemTransport) SendUpdates(target string, args *SendUpdatesRequest, resp *SendUpdatesResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*SendUpdatesResponse)
	*resp = *out
	return nil
}

// RequestUpdates implements the Transport interface.
func (i *InmemTransport) RequestUpdates(target string, args *RequestUpdatesRequest, resp *RequestUpdatesResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	out := rpcResp.Response.(*RequestUpdatesResponse)
	*resp = *out
	return nil
}

// ChainInfo implements the Transport interface.
func (i *InmemTransport) ChainInfo(target string, args *ChainInfoRequest, resp *ChainInfoResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	out := rpcResp.Response.(*ChainInfoResponse)
	*resp = *out
	return nil
}

// Chain implements the Transport interface.
func (i *InmemTransport) Chain(target string, args *ChainRequest, resp *ChainResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	out := rpcResp.Response.(*ChainResponse)
	*resp = *out
	return nil
}

func (i *InmemTransport) makeRPC(target string, args interface{}) (rpcResp RPCResponse, err error) {
	i.RLock()
	peer, ok := i.peers[target]
	timeout := i.timeout
	i.RUnlock()

	if !ok {
		err = fmt.Errorf("failed to connect to peer: %v", target)
		return
	}

	// Send the RPC over
	respCh := make(chan RPCResponse, 1)
	select {
	case peer.consumerCh <- RPC{
		Command:  args,
		RespChan: respCh,
	}:
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
		return
	}

	// Wait for a response
	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
	}
	return
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}
