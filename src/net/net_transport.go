package net

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

/*******************************************************************************
MOST OF THIS IS TAKEN FROM HASHICORP RAFT
*******************************************************************************/

const (
	rpcSendUpdates uint8 = iota
	rpcRequestUpdates
	rpcChainInfo
	rpcChain
)

const (
	// chains can be large
	bufSize = math.MaxUint16
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// wireHandle encodes requests and responses. It is shared by every connection
// and must not be modified.
var wireHandle = new(codec.JsonHandle)

// command describes one RPC kind on the wire.
type command struct {
	name string
	new  func() interface{}
}

var commands = map[uint8]command{
	rpcSendUpdates:    {"SendUpdates", func() interface{} { return new(SendUpdatesRequest) }},
	rpcRequestUpdates: {"RequestUpdates", func() interface{} { return new(RequestUpdatesRequest) }},
	rpcChainInfo:      {"ChainInfo", func() interface{} { return new(ChainInfoRequest) }},
	rpcChain:          {"Chain", func() interface{} { return new(ChainRequest) }},
}

/*
NetworkTransport carries the sync and chain RPCs between ledger nodes over a
StreamLayer.

A request is one byte naming the RPC followed by the JSON request. A response
is the error string followed by the response object, both JSON. Outbound
connections are pooled per peer and reused once a response was fully read.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	connPool     map[string][]*peerConn
	connPoolLock sync.Mutex
	maxPool      int

	consumeCh chan RPC

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout      time.Duration
	chainTimeout time.Duration
}

// peerConn is an outbound connection to a peer.
type peerConn struct {
	target string
	conn   net.Conn
	w      *bufio.Writer
	dec    *codec.Decoder
	enc    *codec.Encoder
}

func (p *peerConn) Release() error {
	return p.conn.Close()
}

// NewNetworkTransport wraps stream. maxPool bounds the idle connections kept
// per peer. timeout is the I/O deadline of the sync RPCs, chainTimeout that of
// the Chain RPC.
func NewNetworkTransport(
	stream StreamLayer,
	maxPool int,
	timeout time.Duration,
	chainTimeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &NetworkTransport{
		connPool:     make(map[string][]*peerConn),
		consumeCh:    make(chan RPC),
		logger:       logger,
		maxPool:      maxPool,
		shutdownCh:   make(chan struct{}),
		stream:       stream,
		timeout:      timeout,
		chainTimeout: chainTimeout,
	}
}

// Close stops the transport and drops every pooled connection.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.shutdown {
		return nil
	}
	close(n.shutdownCh)
	n.stream.Close()
	n.shutdown = true

	n.connPoolLock.Lock()
	for target, conns := range n.connPool {
		for _, c := range conns {
			c.Release()
		}
		delete(n.connPool, target)
	}
	n.connPoolLock.Unlock()

	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	if addr := n.stream.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown reports whether Close was called.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

func (n *NetworkTransport) pooledConn(target string) *peerConn {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns := n.connPool[target]
	if len(conns) == 0 {
		return nil
	}

	last := len(conns) - 1
	conn := conns[last]
	conns[last] = nil
	n.connPool[target] = conns[:last]
	return conn
}

func (n *NetworkTransport) dial(target string, timeout time.Duration) (*peerConn, error) {
	if conn := n.pooledConn(target); conn != nil {
		return conn, nil
	}

	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(conn, bufSize)
	return &peerConn{
		target: target,
		conn:   conn,
		w:      w,
		dec:    codec.NewDecoder(bufio.NewReaderSize(conn, bufSize), wireHandle),
		enc:    codec.NewEncoder(w, wireHandle),
	}, nil
}

func (n *NetworkTransport) release(conn *peerConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns := n.connPool[conn.target]
	if n.IsShutdown() || len(conns) >= n.maxPool {
		conn.Release()
		return
	}
	n.connPool[conn.target] = append(conns, conn)
}

// SendUpdates implements the Transport interface.
func (n *NetworkTransport) SendUpdates(target string, args *SendUpdatesRequest, resp *SendUpdatesResponse) error {
	return n.call(target, rpcSendUpdates, n.timeout, args, resp)
}

// RequestUpdates implements the Transport interface.
func (n *NetworkTransport) RequestUpdates(target string, args *RequestUpdatesRequest, resp *RequestUpdatesResponse) error {
	return n.call(target, rpcRequestUpdates, n.timeout, args, resp)
}

// ChainInfo implements the Transport interface.
func (n *NetworkTransport) ChainInfo(target string, args *ChainInfoRequest, resp *ChainInfoResponse) error {
	return n.call(target, rpcChainInfo, n.timeout, args, resp)
}

// Chain implements the Transport interface.
func (n *NetworkTransport) Chain(target string, args *ChainRequest, resp *ChainResponse) error {
	return n.call(target, rpcChain, n.chainTimeout, args, resp)
}

// call sends one request and reads its response. The connection goes back to
// the pool only when the response was read completely.
func (n *NetworkTransport) call(target string, rpcType uint8, timeout time.Duration, args interface{}, resp interface{}) error {
	conn, err := n.dial(target, timeout)
	if err != nil {
		return err
	}

	if timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := conn.w.WriteByte(rpcType); err != nil {
		conn.Release()
		return err
	}
	if err := conn.enc.Encode(args); err != nil {
		conn.Release()
		return err
	}
	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}

	var rpcErr string
	if err := conn.dec.Decode(&rpcErr); err != nil {
		conn.Release()
		return err
	}
	if err := conn.dec.Decode(resp); err != nil {
		conn.Release()
		return err
	}

	n.release(conn)

	if rpcErr != "" {
		return errors.New(rpcErr)
	}
	return nil
}

// Listen accepts inbound connections until the transport is closed.
func (n *NetworkTransport) Listen() {
	for {
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithError(err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("Accepted connection")

		go n.serve(conn)
	}
}

// serve answers the requests of one inbound connection until it closes.
func (n *NetworkTransport) serve(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReaderSize(conn, bufSize)
	w := bufio.NewWriterSize(conn, bufSize)
	dec := codec.NewDecoder(r, wireHandle)
	enc := codec.NewEncoder(w, wireHandle)

	for {
		err := n.handle(r, dec, enc)
		switch {
		case err == ErrTransportShutdown:
			n.logger.WithField("from", conn.RemoteAddr()).Debug("Dropping connection on shutdown")
			return
		case err == io.EOF:
			return
		case err != nil:
			n.logger.WithError(err).WithField("from", conn.RemoteAddr()).Error("Failed to handle request")
			return
		}
		if err := w.Flush(); err != nil {
			n.logger.WithError(err).Error("Failed to flush response")
			return
		}
	}
}

// handle decodes one request, hands it to the consumer and writes the answer.
func (n *NetworkTransport) handle(r *bufio.Reader, dec *codec.Decoder, enc *codec.Encoder) error {
	rpcType, err := r.ReadByte()
	if err != nil {
		return err
	}

	cmd, ok := commands[rpcType]
	if !ok {
		return fmt.Errorf("unknown rpc type %d", rpcType)
	}

	req := cmd.new()
	if err := dec.Decode(req); err != nil {
		return fmt.Errorf("decoding %s: %v", cmd.name, err)
	}

	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Command:  req,
		RespChan: respCh,
	}

	select {
	case n.consumeCh <- rpc:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	var resp RPCResponse
	select {
	case resp = <-respCh:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	rpcErr := ""
	if resp.Error != nil {
		rpcErr = resp.Error.Error()
	}
	if err := enc.Encode(rpcErr); err != nil {
		return err
	}
	return enc.Encode(resp.Response)
}
