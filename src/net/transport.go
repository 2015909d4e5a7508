package net

import (
	"net"
	"time"
)

// Transport connects a ledger node to its peers. Outbound calls block until
// the peer answers; inbound requests arrive on Consumer.
type Transport interface {
	Listen()

	// Consumer delivers inbound requests. Each one must be answered with
	// Respond.
	Consumer() <-chan RPC

	LocalAddr() string

	// AdvertiseAddr is where peers reach this node.
	AdvertiseAddr() string

	SendUpdates(target string, args *SendUpdatesRequest, resp *SendUpdatesResponse) error

	RequestUpdates(target string, args *RequestUpdatesRequest, resp *RequestUpdatesResponse) error

	ChainInfo(target string, args *ChainInfoRequest, resp *ChainInfoResponse) error

	Chain(target string, args *ChainRequest, resp *ChainResponse) error

	// Close stops the transport for good.
	Close() error
}

// RPC is an inbound request waiting for its answer.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// RPCResponse is the answer to an RPC. Error is sent back as a string.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// Respond answers the request. It must be called exactly once.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{Response: resp, Error: err}
}

// StreamLayer is the connection layer under a NetworkTransport.
type StreamLayer interface {
	net.Listener

	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address peers dial.
	AdvertiseAddr() string
}
