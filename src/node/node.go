package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/handreceipt/ledger/src/authority"
	"github.com/handreceipt/ledger/src/chain"
	"github.com/handreceipt/ledger/src/consensus"
	"github.com/handreceipt/ledger/src/merkle"
	"github.com/handreceipt/ledger/src/metrics"
	"github.com/handreceipt/ledger/src/net"
	"github.com/handreceipt/ledger/src/node/state"
	"github.com/handreceipt/ledger/src/peers"
	"github.com/handreceipt/ledger/src/replication"
	"github.com/sirupsen/logrus"
)

// Node defines a ledger node
type Node struct {
	state.Manager

	conf   *Config
	logger *logrus.Entry

	validator *Validator

	core      *Core
	engine    *consensus.Engine
	sync      *replication.Manager
	discovery *peers.Discovery
	metrics   *metrics.Metrics

	trans net.Transport
	netCh <-chan net.RPC

	sigintCh     chan os.Signal
	stateCh      chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	loops        sync.WaitGroup

	controlTimer *ControlTimer

	start       time.Time
	statsLock   sync.Mutex
	syncCycles  int
	syncErrors  int
	lastCleanup time.Time
}

// NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	validator *Validator,
	auth *authority.Node,
	engine *consensus.Engine,
	syncManager *replication.Manager,
	discovery *peers.Discovery,
	trans net.Transport,
	mt *metrics.Metrics,
) *Node {
	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	logger := conf.Logger.WithFields(logrus.Fields{
		"prefix":  "node",
		"this_id": validator.Moniker,
	})

	node := Node{
		conf:         conf,
		logger:       logger,
		validator:    validator,
		core:         NewCore(validator, auth, engine, syncManager, discovery, mt, logger),
		engine:       engine,
		sync:         syncManager,
		discovery:    discovery,
		metrics:      mt,
		trans:        trans,
		netCh:        trans.Consumer(),
		sigintCh:     sigintCh,
		stateCh:      make(chan struct{}, 1),
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
		start:        time.Now(),
	}

	return &node
}

// Init puts the node in the Syncing state.
func (n *Node) Init() error {
	if n.engine.ChainState().Status != chain.Active {
		n.logger.WithField("chain", n.engine.ChainState().Status).Debug("Chain not active => Suspended")
		n.SetState(state.Suspended)
		return nil
	}
	n.SetState(state.Syncing)
	return nil
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")
	go n.Run()
}

// Run invokes the main loop of the node. It returns after Shutdown.
func (n *Node) Run() {
	go n.controlTimer.Run(n.conf.SyncInterval)

	n.loops.Add(2)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	//Execute Node State Machine
	defer n.loops.Done()
	for {
		s := n.GetState()

		n.logger.WithField("state", s.String()).Debug("Run loop")

		switch s {
		case state.Syncing:
			n.syncing()
		case state.Suspended:
			n.suspended()
		case state.Shutdown:
			return
		}
	}
}

func (n *Node) setState(s state.State) {
	n.SetState(s)
	select {
	case n.stateCh <- struct{}{}:
	default:
	}
}

func (n *Node) doBackgroundWork() {
	defer n.loops.Done()
	for {
		select {
		case rpc := <-n.netCh:
			if !n.GoFunc(func() { n.processRPC(rpc) }) {
				rpc.Respond(nil, fmt.Errorf("node busy"))
			}
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT")
			go n.Shutdown()
			return
		}
	}
}

// syncing runs sync cycles on control timer ticks, seals blocks, and runs the
// cleanup job, until the state changes.
func (n *Node) syncing() {
	n.logger.Debug("SYNCING")

	blockTicker := time.NewTicker(n.conf.BlockTime)
	defer blockTicker.Stop()

	cleanupTicker := time.NewTicker(n.conf.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-n.controlTimer.Ticks():
			n.syncCycle()
			n.checkForks()
			n.logStats()
			n.controlTimer.Reset(n.conf.SyncInterval)
		case <-blockTicker.C:
			if _, err := n.core.CommitPool(); err != nil {
				n.logger.WithError(err).Error("Committing pool")
			}
		case <-cleanupTicker.C:
			n.cleanup()
		case <-n.stateCh:
			if n.GetState() != state.Syncing {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) suspended() {
	n.logger.Debug("SUSPENDED")

	for {
		select {
		case <-n.stateCh:
			if n.GetState() != state.Suspended {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) syncCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), n.conf.SyncTimeout)
	defer cancel()

	go func() {
		select {
		case <-n.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	n.metrics.SetActivePeers(len(n.discovery.ActiveNodes()))

	start := time.Now()
	peerErrs, err := n.sync.SyncCycle(ctx)
	elapsed := time.Since(start)

	n.statsLock.Lock()
	n.syncCycles++
	if err != nil {
		n.syncErrors++
	}
	n.statsLock.Unlock()

	if err != nil {
		n.logger.WithError(err).Error("SyncCycle()")
		return
	}

	failed := 0
	for id, e := range peerErrs {
		if e != nil {
			failed++
			n.logger.WithError(e).WithField("peer", id).Debug("Peer sync failed")
		}
	}

	n.logger.WithFields(logrus.Fields{
		"duration": elapsed.Nanoseconds(),
		"peers":    len(peerErrs),
		"failed":   failed,
	}).Debug("SyncCycle()")
}

// checkForks asks every active peer for the cumulative difficulty of its
// chain, and submits the heaviest chain found to the fork handler if it beats
// the local one.
func (n *Node) checkForks() {
	local, err := n.engine.CumulativeDifficulty()
	if err != nil {
		n.logger.WithError(err).Error("Reading cumulative difficulty")
		return
	}

	var best *peers.NodeInfo
	bestDifficulty := local

	for _, p := range n.discovery.ActiveNodes() {
		p := p
		resp, err := n.requestChainInfo(p.Address)
		if err != nil {
			n.logger.WithError(err).WithField("peer", p.Moniker).Debug("requestChainInfo()")
			continue
		}
		if resp.CumulativeDifficulty > bestDifficulty {
			best = &p
			bestDifficulty = resp.CumulativeDifficulty
		}
	}

	if best == nil {
		return
	}

	start := time.Now()
	resp, err := n.requestChain(best.Address)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("requestChain()")
	if err != nil {
		n.logger.WithError(err).WithField("peer", best.Moniker).Error("requestChain()")
		return
	}

	outcome, err := n.core.AdoptChain(resp.Blocks)
	if err != nil {
		n.logger.WithError(err).Error("AdoptChain()")
		return
	}

	n.logger.WithFields(logrus.Fields{
		"peer":    best.Moniker,
		"outcome": outcome.String(),
		"height":  n.engine.ChainState().Height,
	}).Debug("Fork check")
}

func (n *Node) cleanup() {
	if _, err := n.sync.CleanupOldSyncData(n.conf.RetentionDays); err != nil {
		n.logger.WithError(err).Error("CleanupOldSyncData()")
	}
	if _, err := n.sync.CleanupFailedUpdates(); err != nil {
		n.logger.WithError(err).Error("CleanupFailedUpdates()")
	}

	n.statsLock.Lock()
	n.lastCleanup = time.Now()
	n.statsLock.Unlock()
}

// SubmitTransfer validates a transfer signed by the local authority chain and
// queues it for the peers and the next block.
func (n *Node) SubmitTransfer(t *authority.PropertyTransfer, priority int) (*replication.SyncUpdate, error) {
	if n.GetState() != state.Syncing {
		return nil, fmt.Errorf("node is %s", n.GetState())
	}
	return n.core.SubmitTransfer(t, priority)
}

// Suspend stops syncing and block production. Read requests are still
// served.
func (n *Node) Suspend() error {
	if n.GetState() != state.Syncing {
		return fmt.Errorf("cannot suspend a node that is %s", n.GetState())
	}
	if err := n.engine.Suspend(); err != nil {
		return err
	}
	n.setState(state.Suspended)
	return nil
}

// Resume returns a Suspended node to Syncing.
func (n *Node) Resume() error {
	if n.GetState() != state.Suspended {
		return fmt.Errorf("cannot resume a node that is %s", n.GetState())
	}
	if err := n.engine.Resume(); err != nil {
		return err
	}
	n.setState(state.Syncing)
	return nil
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.SetState(state.Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)
		signal.Stop(n.sigintCh)

		n.controlTimer.Shutdown()

		n.loops.Wait()
		n.WaitRoutines()

		//transport and stores should only be closed once all concurrent
		//operations are finished otherwise they will panic trying to use
		//closed objects
		n.trans.Close()

		if err := n.sync.Storage().Close(); err != nil {
			n.logger.WithError(err).Error("Closing sync storage")
		}
	})
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	chainState := n.engine.ChainState()

	n.statsLock.Lock()
	cycles, errs := n.syncCycles, n.syncErrors
	lastCleanup := n.lastCleanup
	n.statsLock.Unlock()

	cleanup := "never"
	if !lastCleanup.IsZero() {
		cleanup = lastCleanup.UTC().Format(time.RFC3339)
	}

	s := map[string]string{
		"id":               n.validator.ID(),
		"moniker":          n.validator.Moniker,
		"state":            n.GetState().String(),
		"chain_status":     chainState.Status.String(),
		"chain_height":     strconv.FormatUint(chainState.Height, 10),
		"last_block_hash":  chainState.LastBlockHash,
		"transactions":     strconv.FormatUint(chainState.TransactionCount, 10),
		"transaction_pool": strconv.Itoa(n.core.PoolSize()),
		"num_peers":        strconv.Itoa(len(n.discovery.ActiveNodes())),
		"validators":       strconv.Itoa(len(n.engine.ActiveValidators())),
		"sync_cycles":      strconv.Itoa(cycles),
		"sync_rate":        strconv.FormatFloat(syncRate(cycles, errs), 'f', 2, 64),
		"last_cleanup":     cleanup,
		"uptime":           time.Since(n.start).Truncate(time.Second).String(),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"chain_height":     stats["chain_height"],
		"transactions":     stats["transactions"],
		"transaction_pool": stats["transaction_pool"],
		"num_peers":        stats["num_peers"],
		"sync_rate":        stats["sync_rate"],
		"state":            stats["state"],
	}).Debug("Stats")
}

func syncRate(cycles, errs int) float64 {
	if cycles == 0 {
		return 1
	}
	return 1 - float64(errs)/float64(cycles)
}

// ID returns the validator ID
func (n *Node) ID() string {
	return n.validator.ID()
}

// GetBlock returns a block
func (n *Node) GetBlock(height uint64) (*chain.Block, error) {
	return n.engine.GetBlock(height)
}

// GetBlocks returns the committed chain
func (n *Node) GetBlocks() ([]*chain.Block, error) {
	return n.engine.Blocks()
}

// ChainState ...
func (n *Node) ChainState() chain.ChainState {
	return n.engine.ChainState()
}

// GetValidators returns the validator set
func (n *Node) GetValidators() []*chain.Validator {
	return n.engine.Validators()
}

// GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.discovery.PeerSet().Peers
}

// GetPeerStates returns the sync state of every peer synced with
func (n *Node) GetPeerStates() map[string]replication.PeerState {
	return n.sync.PeerStates()
}

// GetFailedUpdates returns the updates that exhausted their retries and are
// waiting for cleanup.
func (n *Node) GetFailedUpdates() ([]*replication.SyncUpdate, error) {
	return n.sync.Storage().FailedUpdates()
}

// GetProof returns the Merkle inclusion proof of a transaction of a committed
// block.
func (n *Node) GetProof(height uint64, txID string) (*merkle.Proof, error) {
	b, err := n.engine.GetBlock(height)
	if err != nil {
		return nil, err
	}
	return b.Proof(txID)
}
