package node

import (
	"fmt"

	"github.com/handreceipt/ledger/src/net"
	"github.com/handreceipt/ledger/src/node/state"
	"github.com/sirupsen/logrus"
)

func (n *Node) requestChainInfo(target string) (net.ChainInfoResponse, error) {
	args := net.ChainInfoRequest{
		FromID: n.validator.ID(),
	}

	var out net.ChainInfoResponse

	err := n.trans.ChainInfo(target, &args, &out)

	return out, err
}

func (n *Node) requestChain(target string) (net.ChainResponse, error) {
	n.logger.WithFields(logrus.Fields{
		"target": target,
	}).Debug("RequestChain()")

	args := net.ChainRequest{
		FromID: n.validator.ID(),
	}

	var out net.ChainResponse

	err := n.trans.Chain(target, &args, &out)

	return out, err
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.SendUpdatesRequest:
		n.processSendUpdatesRequest(rpc, cmd)
	case *net.RequestUpdatesRequest:
		n.processRequestUpdatesRequest(rpc, cmd)
	case *net.ChainInfoRequest:
		n.processChainInfoRequest(rpc, cmd)
	case *net.ChainRequest:
		n.processChainRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processSendUpdatesRequest(rpc net.RPC, cmd *net.SendUpdatesRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"bytes":   len(cmd.Batch),
	}).Debug("process SendUpdatesRequest")

	resp := &net.SendUpdatesResponse{
		FromID: n.validator.ID(),
	}

	var respErr error

	if s := n.GetState(); s != state.Syncing {
		respErr = fmt.Errorf("node is %s", s)
	} else if err := n.sync.HandleIncoming(cmd.Batch); err != nil {
		n.logger.WithError(err).Error("HandleIncoming()")
		respErr = err
	} else {
		resp.Success = true
	}

	rpc.Respond(resp, respErr)
}

func (n *Node) processRequestUpdatesRequest(rpc net.RPC, cmd *net.RequestUpdatesRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"since":   cmd.Since,
	}).Debug("process RequestUpdatesRequest")

	resp := &net.RequestUpdatesResponse{
		FromID: n.validator.ID(),
	}

	batch, err := n.sync.Outstanding(cmd.FromID, cmd.Since)
	if err != nil {
		n.logger.WithError(err).Error("Outstanding()")
	} else {
		resp.Batch = batch
	}

	rpc.Respond(resp, err)
}

func (n *Node) processChainInfoRequest(rpc net.RPC, cmd *net.ChainInfoRequest) {
	chainState := n.engine.ChainState()

	resp := &net.ChainInfoResponse{
		FromID:        n.validator.ID(),
		Height:        chainState.Height,
		LastBlockHash: chainState.LastBlockHash,
	}

	difficulty, err := n.engine.CumulativeDifficulty()
	if err != nil {
		n.logger.WithError(err).Error("CumulativeDifficulty()")
	} else {
		resp.CumulativeDifficulty = difficulty
	}

	rpc.Respond(resp, err)
}

func (n *Node) processChainRequest(rpc net.RPC, cmd *net.ChainRequest) {
	n.logger.WithField("from_id", cmd.FromID).Debug("process ChainRequest")

	resp := &net.ChainResponse{
		FromID: n.validator.ID(),
	}

	blocks, err := n.engine.Blocks()
	if err != nil {
		n.logger.WithError(err).Error("Blocks()")
	} else {
		resp.Blocks = blocks
	}

	n.logger.WithFields(logrus.Fields{
		"blocks":  len(resp.Blocks),
		"rpc_err": err,
	}).Debug("Responding to ChainRequest")

	rpc.Respond(resp, err)
}
