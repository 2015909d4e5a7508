package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/handreceipt/ledger/src/chain"
	"github.com/sirupsen/logrus"
)

// Engine holds the validator set and chain state of a node.
type Engine struct {
	sync.RWMutex

	conf       *Config
	store      chain.Store
	audit      AuditLogger
	rules      []rule
	validators map[string]*chain.Validator
	state      chain.ChainState

	logger *logrus.Entry
}

// NewEngine creates an Engine over the chain found in store.
func NewEngine(conf *Config, store chain.Store, audit AuditLogger, logger *logrus.Entry) (*Engine, error) {
	if logger == nil {
		logger = logrus.New().WithField("prefix", "consensus")
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	state, err := store.ChainState()
	if err != nil {
		return nil, err
	}

	return &Engine{
		conf:       conf,
		store:      store,
		audit:      audit,
		rules:      defaultRules(),
		validators: make(map[string]*chain.Validator),
		state:      state,
		logger:     logger,
	}, nil
}

func (e *Engine) logEvent(event string, fields map[string]interface{}) error {
	if err := e.audit.LogEvent(event, fields); err != nil {
		e.logger.WithError(err).WithField("event", event).Error("Audit write failed")
		return newErr(AuditFailure, "%s: %v", event, err)
	}
	return nil
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// Validators

// AddValidator adds an active validator. It fails if the set is full or
// already contains v.
func (e *Engine) AddValidator(v *chain.Validator) error {
	e.Lock()
	defer e.Unlock()

	if _, ok := e.validators[v.ID]; ok {
		return newErr(DuplicateValidator, "%s", v.ID)
	}
	if len(e.validators) >= e.conf.MaxValidators {
		return newErr(AboveMaxValidators, "%d validators", len(e.validators))
	}

	if err := e.logEvent(EventValidatorAdded, map[string]interface{}{
		"validator": v.ID,
		"moniker":   v.Moniker,
		"size":      len(e.validators) + 1,
	}); err != nil {
		return err
	}

	cp := *v
	e.validators[v.ID] = &cp

	return nil
}

// Bootstrap adds the initial validator set and checks that it reaches the
// configured minimum. Until it returns nil the engine must not be used.
func (e *Engine) Bootstrap(validators []*chain.Validator) error {
	for _, v := range validators {
		if err := e.AddValidator(v); err != nil {
			return err
		}
	}

	e.RLock()
	defer e.RUnlock()

	if len(e.validators) < e.conf.MinValidators {
		return newErr(BelowMinValidators, "%d validators, %d required", len(e.validators), e.conf.MinValidators)
	}

	return nil
}

// RemoveValidator removes a validator. It fails if the set would drop below
// the minimum.
func (e *Engine) RemoveValidator(id string) error {
	e.Lock()
	defer e.Unlock()

	if _, ok := e.validators[id]; !ok {
		return newErr(UnknownValidator, "%s", id)
	}
	if len(e.validators)-1 < e.conf.MinValidators {
		return newErr(BelowMinValidators, "%d validators", len(e.validators))
	}

	if err := e.logEvent(EventValidatorRemoved, map[string]interface{}{
		"validator": id,
		"size":      len(e.validators) - 1,
	}); err != nil {
		return err
	}

	delete(e.validators, id)

	return nil
}

// SetValidatorStatus activates or deactivates a validator.
func (e *Engine) SetValidatorStatus(id string, status chain.ValidatorStatus) error {
	e.Lock()
	defer e.Unlock()

	v, ok := e.validators[id]
	if !ok {
		return newErr(UnknownValidator, "%s", id)
	}

	if err := e.logEvent(EventValidatorStatus, map[string]interface{}{
		"validator": id,
		"from":      v.Status.String(),
		"to":        status.String(),
	}); err != nil {
		return err
	}

	cp := *v
	cp.Status = status
	e.validators[id] = &cp

	return nil
}

// Validators returns a copy of the whole set, sorted by id.
func (e *Engine) Validators() []*chain.Validator {
	e.RLock()
	defer e.RUnlock()
	return e.sortedValidators(false)
}

// ActiveValidators returns a copy of the active validators, sorted by id.
func (e *Engine) ActiveValidators() []*chain.Validator {
	e.RLock()
	defer e.RUnlock()
	return e.sortedValidators(true)
}

func (e *Engine) sortedValidators(activeOnly bool) []*chain.Validator {
	res := make([]*chain.Validator, 0, len(e.validators))
	for _, v := range e.validators {
		if activeOnly && v.Status != chain.ValidatorActive {
			continue
		}
		cp := *v
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// Blocks

// ChainState ...
func (e *Engine) ChainState() chain.ChainState {
	e.RLock()
	defer e.RUnlock()
	return e.state
}

// ProposeBlock assembles the next block over txs. The block is neither
// validated nor committed.
func (e *Engine) ProposeBlock(txs []*chain.Transaction) (*chain.Block, error) {
	e.RLock()
	defer e.RUnlock()

	if e.state.Status != chain.Active {
		return nil, newErr(ChainNotActive, "chain is %s", e.state.Status)
	}
	if len(txs) == 0 {
		return nil, newErr(EmptyBlock, "")
	}

	size := 0
	for _, tx := range txs {
		size += len(tx.Payload)
	}
	if size > e.conf.MaxBlockSize {
		return nil, newErr(BlockTooLarge, "%d bytes exceeds %d", size, e.conf.MaxBlockSize)
	}
	if len(txs) > e.conf.MaxTransactions {
		return nil, newErr(BlockTooLarge, "%d transactions exceeds %d", len(txs), e.conf.MaxTransactions)
	}

	return chain.NewBlock(e.state.Height+1, e.state.LastBlockHash, txs, e.conf.MinDifficulty)
}

// ValidateBlock runs every rule on the block.
func (e *Engine) ValidateBlock(b *chain.Block) ValidationResult {
	e.RLock()
	defer e.RUnlock()
	return e.validateBlock(b)
}

func (e *Engine) validateBlock(b *chain.Block) ValidationResult {
	ctx := &ruleContext{
		conf:       e.conf,
		validators: e.validators,
		now:        time.Now().UTC(),
	}
	return evaluate(e.rules, ctx, b)
}

// CommitBlock appends a block to the chain. The block must pass validation
// and extend the current tip. The committed copy is stamped with its
// confirmation time and returned.
func (e *Engine) CommitBlock(b *chain.Block) (*chain.Block, error) {
	e.Lock()
	defer e.Unlock()

	if e.state.Status != chain.Active {
		return nil, newErr(ChainNotActive, "chain is %s", e.state.Status)
	}

	if res := e.validateBlock(b); !res.Valid {
		return nil, newErr(InvalidBlock, "%s", res)
	}

	if b.Height() != e.state.Height+1 {
		return nil, newErr(HeightMismatch, "block %d on chain of height %d", b.Height(), e.state.Height)
	}
	if b.Header.PreviousHash != e.state.LastBlockHash {
		return nil, newErr(PreviousHashMismatch, "block %d", b.Height())
	}

	if err := e.logEvent(EventBlockCommitted, map[string]interface{}{
		"height":       b.Height(),
		"hash":         b.Hex(),
		"transactions": len(b.Transactions),
	}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	confirmed := *b
	confirmed.ConfirmedAt = &now

	newState := e.state.Extend(&confirmed)
	if err := e.store.CommitBlock(&confirmed, newState); err != nil {
		return nil, err
	}
	e.state = newState

	for id := range b.Signatures {
		if v, ok := e.validators[id]; ok {
			cp := *v
			cp.LastActive = now
			e.validators[id] = &cp
		}
	}

	e.logger.WithFields(logrus.Fields{
		"height":       newState.Height,
		"transactions": newState.TransactionCount,
	}).Debug("Committed block")

	return &confirmed, nil
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// Chain

// Blocks returns the committed chain.
func (e *Engine) Blocks() ([]*chain.Block, error) {
	return e.store.Blocks()
}

// GetBlock ...
func (e *Engine) GetBlock(height uint64) (*chain.Block, error) {
	return e.store.GetBlock(height)
}

// CumulativeDifficulty of the committed chain.
func (e *Engine) CumulativeDifficulty() (uint64, error) {
	blocks, err := e.store.Blocks()
	if err != nil {
		return 0, err
	}
	return chain.CumulativeDifficulty(blocks), nil
}

// ValidateChain checks a whole chain from genesis: every block passes the
// Critical rules and links to its predecessor.
func (e *Engine) ValidateChain(blocks []*chain.Block) error {
	e.RLock()
	defer e.RUnlock()
	return e.validateChain(blocks)
}

func (e *Engine) validateChain(blocks []*chain.Block) error {
	prevHash := ""
	for i, b := range blocks {
		if b.Height() != uint64(i+1) {
			return newErr(InvalidChain, "block %d at position %d", b.Height(), i+1)
		}
		if b.Header.PreviousHash != prevHash {
			return newErr(InvalidChain, "block %d does not link to its predecessor", b.Height())
		}
		if res := e.validateBlock(b); !res.Valid {
			return newErr(InvalidChain, "block %d: %s", b.Height(), res)
		}
		prevHash = b.Hex()
	}
	return nil
}

// ReplaceChain swaps the committed chain for blocks after validating them.
// Readers never observe a partially replaced chain.
func (e *Engine) ReplaceChain(blocks []*chain.Block) error {
	e.Lock()
	defer e.Unlock()

	if err := e.validateChain(blocks); err != nil {
		return err
	}

	newState := chain.StateOf(blocks, e.state.Status)

	if err := e.logEvent(EventChainReplaced, map[string]interface{}{
		"from_height": e.state.Height,
		"to_height":   newState.Height,
		"tip":         newState.LastBlockHash,
	}); err != nil {
		return err
	}

	if err := e.store.ReplaceChain(blocks, newState); err != nil {
		return err
	}
	e.state = newState

	return nil
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// Status

// Suspend stops the chain from accepting blocks until Resume.
func (e *Engine) Suspend() error {
	return e.setStatus(chain.Suspended)
}

// Resume reactivates a suspended chain. A halted chain cannot be resumed.
func (e *Engine) Resume() error {
	return e.setStatus(chain.Active)
}

// Halt stops the chain for good.
func (e *Engine) Halt() error {
	return e.setStatus(chain.Halted)
}

func (e *Engine) setStatus(status chain.ChainStatus) error {
	e.Lock()
	defer e.Unlock()

	if e.state.Status == chain.Halted {
		return newErr(ChainNotActive, "chain is halted")
	}
	if e.state.Status == status {
		return nil
	}

	if err := e.logEvent(EventChainStatus, map[string]interface{}{
		"from": e.state.Status.String(),
		"to":   status.String(),
	}); err != nil {
		return err
	}

	newState := e.state
	newState.Status = status
	if err := e.store.SetChainState(newState); err != nil {
		return err
	}
	e.state = newState

	return nil
}
