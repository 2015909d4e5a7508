package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/handreceipt/ledger/src/net"
	"github.com/handreceipt/ledger/src/peers"
)

// TransportExchanger implements Exchanger over a net.Transport. Transport
// calls are bounded by the transport's own timeouts; the context only
// releases the caller early.
type TransportExchanger struct {
	trans net.Transport
	self  string
}

// NewTransportExchanger ...
func NewTransportExchanger(trans net.Transport, self string) *TransportExchanger {
	return &TransportExchanger{
		trans: trans,
		self:  self,
	}
}

// SendUpdates implements Exchanger.
func (e *TransportExchanger) SendUpdates(ctx context.Context, node peers.NodeInfo, sealed []byte) error {
	args := net.SendUpdatesRequest{
		FromID: e.self,
		Batch:  sealed,
	}
	var out net.SendUpdatesResponse

	err := e.call(ctx, func() error {
		return e.trans.SendUpdates(node.Address, &args, &out)
	})
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("batch refused by %s", node.ID)
	}
	return nil
}

// RequestUpdates implements Exchanger.
func (e *TransportExchanger) RequestUpdates(ctx context.Context, node peers.NodeInfo, since time.Time) ([]byte, error) {
	args := net.RequestUpdatesRequest{
		FromID: e.self,
		Since:  since,
	}
	var out net.RequestUpdatesResponse

	err := e.call(ctx, func() error {
		return e.trans.RequestUpdates(node.Address, &args, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Batch, nil
}

func (e *TransportExchanger) call(ctx context.Context, rpc func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- rpc()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
