package node

import (
	"sync"

	"github.com/handreceipt/ledger/src/authority"
	"github.com/handreceipt/ledger/src/chain"
	"github.com/handreceipt/ledger/src/consensus"
	"github.com/handreceipt/ledger/src/crypto"
	"github.com/handreceipt/ledger/src/metrics"
	"github.com/handreceipt/ledger/src/peers"
	"github.com/handreceipt/ledger/src/replication"
	"github.com/sirupsen/logrus"
)

// Core is the synchronous part of a Node. It owns the transaction pool and
// ties the authority, the consensus engine and the replication manager
// together. Its methods are safe for concurrent use.
type Core struct {
	validator *Validator
	authority *authority.Node
	engine    *consensus.Engine
	sync      *replication.Manager
	discovery *peers.Discovery

	poolLock        sync.Mutex
	transactionPool []*chain.Transaction
	// checksums of the payloads that are pooled or committed
	known map[string]bool

	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewCore registers the Core as the receiver of the updates the manager
// accepts from peers.
func NewCore(validator *Validator,
	auth *authority.Node,
	engine *consensus.Engine,
	syncManager *replication.Manager,
	discovery *peers.Discovery,
	mt *metrics.Metrics,
	logger *logrus.Entry) *Core {

	if logger == nil {
		logger = logrus.New().WithField("prefix", "core")
	}

	core := &Core{
		validator: validator,
		authority: auth,
		engine:    engine,
		sync:      syncManager,
		discovery: discovery,
		known:     make(map[string]bool),
		metrics:   mt,
		logger:    logger,
	}

	core.seedKnown()
	syncManager.SetOnAccepted(core.onAccepted)

	return core
}

func (c *Core) seedKnown() {
	blocks, err := c.engine.Blocks()
	if err != nil {
		c.logger.WithError(err).Error("Reading committed blocks")
		return
	}
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			c.known[crypto.Checksum(tx.Payload)] = true
		}
	}
}

// SubmitTransfer validates a locally produced transfer, pools it for the next
// block, and queues it for every active peer. The returned update is the
// local copy of the record.
func (c *Core) SubmitTransfer(t *authority.PropertyTransfer, priority int) (*replication.SyncUpdate, error) {
	if err := c.authority.ValidateTransfer(t); err != nil {
		return nil, err
	}
	if err := c.checkCustody(t); err != nil {
		return nil, err
	}

	payload, err := t.Marshal()
	if err != nil {
		return nil, err
	}

	destinations := []string{}
	for _, n := range c.discovery.ActiveNodes() {
		destinations = append(destinations, n.ID)
	}

	u, err := c.sync.Enqueue(t.RecordID(), payload, priority, destinations)
	if err != nil {
		return nil, err
	}

	if err := c.AddTransaction(payload, t.Classification); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"property":     t.PropertyID,
		"record":       u.ID,
		"destinations": len(destinations),
	}).Info("Submitted transfer")

	return u, nil
}

// checkCustody requires t to continue from the latest transfer this node holds
// for the same property.
func (c *Core) checkCustody(t *authority.PropertyTransfer) error {
	cur, err := c.sync.Current(t.RecordID())
	if err != nil || cur == nil {
		return err
	}

	held, err := authority.DecodeTransfers(cur.Payload)
	if err != nil {
		return err
	}

	var last *authority.PropertyTransfer
	for _, h := range held {
		if h.PropertyID != t.PropertyID {
			continue
		}
		if last == nil || h.CreatedAt.After(last.CreatedAt) {
			last = h
		}
	}
	if last == nil {
		return nil
	}

	return authority.ValidateCustodyChain([]*authority.PropertyTransfer{last, t})
}

// AddTransaction pools a signed transaction over payload, unless the same
// payload is already pooled or committed.
func (c *Core) AddTransaction(payload []byte, class chain.Classification) error {
	sum := crypto.Checksum(payload)

	c.poolLock.Lock()
	defer c.poolLock.Unlock()

	if c.known[sum] {
		return nil
	}

	tx := chain.NewTransaction(payload, class)
	if err := tx.Sign(c.validator.Key); err != nil {
		return err
	}

	c.transactionPool = append(c.transactionPool, tx)
	c.known[sum] = true

	return nil
}

func (c *Core) onAccepted(u *replication.SyncUpdate) {
	class := chain.Unclassified
	transfers, err := authority.DecodeTransfers(u.Payload)
	if err != nil {
		c.logger.WithError(err).WithField("id", u.ID).Error("Decoding accepted update")
		return
	}
	for _, t := range transfers {
		if t.Classification > class {
			class = t.Classification
		}
	}

	if err := c.AddTransaction(u.Payload, class); err != nil {
		c.logger.WithError(err).WithField("id", u.ID).Error("Pooling accepted update")
	}
}

// Busy reports whether there are transactions waiting for a block.
func (c *Core) Busy() bool {
	return c.PoolSize() > 0
}

// PoolSize ...
func (c *Core) PoolSize() int {
	c.poolLock.Lock()
	defer c.poolLock.Unlock()
	return len(c.transactionPool)
}

// CommitPool seals as much of the pool as fits in one block, signs the block,
// and commits it. Only a primary commits; other nodes return nil. A single
// transaction too large for any block is dropped.
func (c *Core) CommitPool() (*chain.Block, error) {
	if !c.authority.Primary() {
		return nil, nil
	}

	c.poolLock.Lock()
	defer c.poolLock.Unlock()

	if len(c.transactionPool) == 0 {
		return nil, nil
	}

	n := len(c.transactionPool)
	var block *chain.Block
	var err error
	for {
		block, err = c.engine.ProposeBlock(c.transactionPool[:n])
		if consensus.Is(err, consensus.BlockTooLarge) && n > 1 {
			n /= 2
			continue
		}
		break
	}
	if consensus.Is(err, consensus.BlockTooLarge) {
		c.logger.WithField("tx", c.transactionPool[0].ID).Error("Dropping oversized transaction")
		c.transactionPool = c.transactionPool[1:]
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := block.Sign(c.validator.Key); err != nil {
		return nil, err
	}

	committed, err := c.engine.CommitBlock(block)
	if err != nil {
		return nil, err
	}

	c.transactionPool = c.transactionPool[n:]
	c.metrics.ObserveBlock(committed.Height())

	c.logger.WithFields(logrus.Fields{
		"height":       committed.Height(),
		"transactions": len(committed.Transactions),
		"pool":         len(c.transactionPool),
	}).Info("Committed block")

	return committed, nil
}

// AdoptChain hands a competing chain to the fork handler. When the chain is
// adopted, pooled transactions it already records leave the pool and
// transactions of the discarded local blocks it does not record go back to it.
func (c *Core) AdoptChain(blocks []*chain.Block) (replication.ForkOutcome, error) {
	local, err := c.engine.Blocks()
	if err != nil {
		return replication.ForkIgnored, err
	}

	outcome, err := c.sync.HandleFork(blocks)
	if err != nil || outcome != replication.ForkAdopted {
		return outcome, err
	}

	recorded := make(map[string]bool)
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			recorded[crypto.Checksum(tx.Payload)] = true
		}
	}

	c.poolLock.Lock()
	defer c.poolLock.Unlock()

	pool := []*chain.Transaction{}
	pooled := make(map[string]bool)
	for _, tx := range c.transactionPool {
		sum := crypto.Checksum(tx.Payload)
		if !recorded[sum] {
			pool = append(pool, tx)
			pooled[sum] = true
		}
	}

	restored := 0
	for _, b := range local {
		for _, tx := range b.Transactions {
			sum := crypto.Checksum(tx.Payload)
			if recorded[sum] || pooled[sum] {
				continue
			}
			pool = append(pool, tx)
			pooled[sum] = true
			restored++
		}
	}

	for sum := range recorded {
		c.known[sum] = true
	}
	c.transactionPool = pool

	if restored > 0 {
		c.logger.WithField("transactions", restored).Info("Restored transactions of discarded blocks")
	}

	return outcome, nil
}
