package replication

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/handreceipt/ledger/src/metrics"
	"github.com/handreceipt/ledger/src/peers"
	"github.com/sirupsen/logrus"
)

// Manager synchronizes the updates of this node with its peers.
type Manager struct {
	conf *Config
	self string

	storage   Storage
	discovery Discovery
	exchanger Exchanger
	transport SecureTransport
	validator TransferValidator
	engine    ChainEngine

	// applyMu serializes storage transactions.
	applyMu sync.Mutex

	peersLock  sync.RWMutex
	peerStates map[string]*PeerState

	onAccepted func(*SyncUpdate)

	metrics *metrics.Metrics
	sleep   Sleeper
	now     func() time.Time

	logger *logrus.Entry
}

// NewManager ...
func NewManager(
	conf *Config,
	self string,
	storage Storage,
	discovery Discovery,
	exchanger Exchanger,
	transport SecureTransport,
	validator TransferValidator,
	engine ChainEngine,
	logger *logrus.Entry,
) *Manager {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Manager{
		conf:       conf,
		self:       self,
		storage:    storage,
		discovery:  discovery,
		exchanger:  exchanger,
		transport:  transport,
		validator:  validator,
		engine:     engine,
		peerStates: make(map[string]*PeerState),
		sleep:      ContextSleeper,
		now:        time.Now,
		logger:     logger,
	}
}

// SetMetrics ...
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// SetSleeper replaces the function used to wait between retries.
func (m *Manager) SetSleeper(s Sleeper) {
	m.sleep = s
}

// SetOnAccepted registers a callback invoked, after commit, with every
// received update that changed local state.
func (m *Manager) SetOnAccepted(f func(*SyncUpdate)) {
	m.onAccepted = f
}

// Storage ...
func (m *Manager) Storage() Storage {
	return m.storage
}

// Current returns the version of a record standing on this node, or nil when
// the node holds no copy of it.
func (m *Manager) Current(id string) (*SyncUpdate, error) {
	copies, err := m.storage.GetUpdates(id)
	if err != nil {
		return nil, newErr(StorageFailure, "", err, "reading %s", id)
	}
	if len(copies) == 0 {
		return nil, nil
	}
	return representative(copies), nil
}

// SyncCycle syncs with every active peer concurrently. The returned map holds
// the outcome per peer id; the error is only set when pending updates could
// not be fetched.
func (m *Manager) SyncCycle(ctx context.Context) (map[string]error, error) {
	pending, err := m.storage.FetchPendingUpdates(m.conf.MaxRetries)
	if err != nil {
		return nil, newErr(StorageFailure, "", err, "fetching pending updates")
	}

	groups := make(map[string][]*SyncUpdate)
	for _, u := range pending {
		groups[u.Destination] = append(groups[u.Destination], u)
	}

	nodes := m.discovery.ActiveNodes()
	m.metrics.SetActivePeers(len(nodes))

	m.logger.WithFields(logrus.Fields{
		"pending": len(pending),
		"peers":   len(nodes),
	}).Debug("SyncCycle")

	results := make(map[string]error, len(nodes))
	var resLock sync.Mutex
	var wg sync.WaitGroup

	for _, n := range nodes {
		wg.Add(1)
		go func(node peers.NodeInfo, batch []*SyncUpdate) {
			defer wg.Done()
			err := m.syncNode(ctx, node, batch)
			resLock.Lock()
			results[node.ID] = err
			resLock.Unlock()
		}(n, groups[n.ID])
	}

	wg.Wait()

	return results, nil
}

// syncNode runs the rounds for one peer. Updates within the batch are handled
// in order and the batch succeeds or fails as a whole.
func (m *Manager) syncNode(ctx context.Context, node peers.NodeInfo, batch []*SyncUpdate) error {
	started := m.now()
	logger := m.logger.WithFields(logrus.Fields{
		"peer":  node.ID,
		"batch": len(batch),
	})

	since := m.peerState(node.ID).LastSync
	if !since.IsZero() {
		since = since.Add(-m.conf.Overlap)
	}

	if err := m.setStatus(batch, InProgress); err != nil {
		err = newErr(StorageFailure, node.ID, err, "marking batch in progress")
		m.recordSync(node.ID, started, len(batch), err)
		logger.WithError(err).Error("Sync")
		return err
	}

	rounds := NewRetrier(m.conf.Rounds, m.sleep)
	err := rounds.Run(ctx, func(ctx context.Context, round int) error {
		err := m.syncRound(ctx, node, batch, since)
		if err == nil {
			return nil
		}
		logger.WithError(err).WithField("round", round).Debug("Sync round failed")
		if Is(err, Validation) || Is(err, RetryLimitExceeded) || Is(err, StorageFailure) {
			return Permanent(err)
		}
		return err
	})

	m.metrics.ObserveSync(node.ID, m.now().Sub(started).Seconds(), err)

	if err != nil {
		if e, ok := err.(*Err); ok && e.Peer == "" {
			e.Peer = node.ID
		}
		if ferr := m.failBatch(batch); ferr != nil {
			logger.WithError(ferr).Error("Requeueing batch")
		}
		m.markDown(node.ID)
		m.recordSync(node.ID, started, len(batch), err)
		logger.WithError(err).Warn("Sync failed")
		return err
	}

	m.markSeen(node.ID)
	m.recordSync(node.ID, started, 0, nil)
	logger.Debug("Sync done")

	return nil
}

// syncRound is validate, send, receive, resolve.
func (m *Manager) syncRound(ctx context.Context, node peers.NodeInfo, batch []*SyncUpdate, since time.Time) error {
	for _, u := range batch {
		if err := m.validate(u); err != nil {
			return newErr(Validation, node.ID, err, "update %s", u.ID)
		}
	}

	if len(batch) > 0 {
		sealed, err := m.seal(batch)
		if err != nil {
			return newErr(Validation, node.ID, err, "sealing batch")
		}

		send := NewRetrier(m.conf.Send, m.sleep)
		err = send.Run(ctx, func(ctx context.Context, attempt int) error {
			if err := m.exchanger.SendUpdates(ctx, node, sealed); err != nil {
				return newErr(Network, node.ID, err, "sending batch")
			}
			return nil
		})
		if err != nil {
			if e, ok := err.(*Err); ok {
				e.Peer = node.ID
			}
			return err
		}

		m.metrics.AddSent(len(batch))
	}

	var received *Batch
	recv := NewRetrier(m.conf.Receive, m.sleep)
	err := recv.Run(ctx, func(ctx context.Context, attempt int) error {
		rctx, cancel := context.WithTimeout(ctx, m.conf.ReceiveTimeout)
		defer cancel()

		sealed, err := m.exchanger.RequestUpdates(rctx, node, since)
		if err == nil && rctx.Err() != nil {
			err = rctx.Err()
		}
		if err != nil {
			return newErr(Network, node.ID, err, "requesting updates")
		}

		b, err := m.open(sealed)
		if err != nil {
			return newErr(Network, node.ID, err, "opening batch")
		}
		received = b
		return nil
	})
	if err != nil {
		return newErr(Network, node.ID, err, "receiving updates")
	}

	accepted, err := m.apply(node.ID, received.Updates, batch)
	if err != nil {
		return err
	}
	m.fireAccepted(accepted)

	return nil
}

// HandleIncoming accepts a sealed batch pushed by a peer.
func (m *Manager) HandleIncoming(sealed []byte) error {
	b, err := m.open(sealed)
	if err != nil {
		return newErr(Validation, "", err, "opening batch")
	}

	accepted, err := m.apply(b.From, b.Updates, nil)
	if err != nil {
		return err
	}
	m.fireAccepted(accepted)
	m.markSeen(b.From)

	return nil
}

// Outstanding returns, as a sealed batch, one version of every record
// modified after since. Failed updates are left out.
func (m *Manager) Outstanding(requester string, since time.Time) ([]byte, error) {
	updates, err := m.storage.Outstanding(since)
	if err != nil {
		return nil, newErr(StorageFailure, requester, err, "reading outstanding updates")
	}

	copies := make(map[string][]*SyncUpdate)
	for _, u := range updates {
		if u.Status == Failed {
			continue
		}
		copies[u.ID] = append(copies[u.ID], u)
	}

	ids := make([]string, 0, len(copies))
	for id := range copies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := make([]*SyncUpdate, 0, len(ids))
	for _, id := range ids {
		res = append(res, representative(copies[id]))
	}

	m.logger.WithFields(logrus.Fields{
		"requester": requester,
		"since":     since,
		"updates":   len(res),
	}).Debug("Outstanding")

	return m.seal(res)
}

// Enqueue records a new version of a record produced by this node and queues
// it for every destination. Existing copies of the record take the new
// content and go back to Pending.
func (m *Manager) Enqueue(id string, payload []byte, priority int, destinations []string) (*SyncUpdate, error) {
	if err := m.validator.ValidateUpdate(payload); err != nil {
		return nil, newErr(Validation, "", err, "update %s", id)
	}

	now := m.now()
	base := NewSyncUpdate(id, m.self, "", payload, priority, now)

	err := m.withTx(func(tx Tx) error {
		copies, err := tx.GetUpdates(id)
		if err != nil {
			return err
		}

		have := make(map[string]bool)
		for _, c := range copies {
			u := c.WithContent(base, now)
			if c.Destination != "" {
				u.Status = Pending
				u.RetryCount = 0
			}
			if err := tx.PutUpdate(u); err != nil {
				return err
			}
			have[c.Destination] = true
		}

		if !have[""] {
			if err := tx.InsertUpdate(base.WithStatus(Completed, now)); err != nil {
				return err
			}
		}

		for _, d := range destinations {
			if d == m.self || d == "" || have[d] {
				continue
			}
			have[d] = true
			if err := tx.InsertUpdate(NewSyncUpdate(id, m.self, d, payload, priority, now)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, newErr(StorageFailure, "", err, "enqueueing %s", id)
	}

	m.logger.WithFields(logrus.Fields{
		"id":           id,
		"priority":     priority,
		"destinations": len(destinations),
	}).Debug("Enqueue")

	return base, nil
}

// CleanupOldSyncData removes Completed updates, and the state of peers not
// attempted, for longer than days.
func (m *Manager) CleanupOldSyncData(days int) (int, error) {
	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)

	m.applyMu.Lock()
	n, err := m.storage.DeleteCompletedBefore(cutoff)
	m.applyMu.Unlock()
	if err != nil {
		return 0, newErr(StorageFailure, "", err, "deleting completed updates")
	}

	pruned := m.prunePeerStates(cutoff)

	m.logger.WithFields(logrus.Fields{
		"days":    days,
		"updates": n,
		"peers":   pruned,
	}).Info("CleanupOldSyncData")

	return n, nil
}

// CleanupFailedUpdates archives every Failed update and removes it from the
// active updates, all at once.
func (m *Manager) CleanupFailedUpdates() (int, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	failed, err := m.storage.FailedUpdates()
	if err != nil {
		return 0, newErr(StorageFailure, "", err, "reading failed updates")
	}
	if len(failed) == 0 {
		return 0, nil
	}

	if err := m.storage.ArchiveAndDelete(failed); err != nil {
		return 0, newErr(StorageFailure, "", err, "archiving failed updates")
	}

	m.logger.WithField("updates", len(failed)).Info("CleanupFailedUpdates")

	return len(failed), nil
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// Internals

func (m *Manager) validate(u *SyncUpdate) error {
	if !u.VerifyChecksum() {
		return newErr(Validation, "", nil, "checksum mismatch for %s", u.ID)
	}
	return m.validator.ValidateUpdate(u.Payload)
}

func (m *Manager) seal(updates []*SyncUpdate) ([]byte, error) {
	b := &Batch{From: m.self}
	for _, u := range updates {
		b.Updates = append(b.Updates, wire(u))
	}
	plain, err := b.Marshal()
	if err != nil {
		return nil, err
	}
	return m.transport.Encrypt(plain)
}

func (m *Manager) open(sealed []byte) (*Batch, error) {
	plain, err := m.transport.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	b := new(Batch)
	if err := b.Unmarshal(plain); err != nil {
		return nil, err
	}
	return b, nil
}

// admit drops the received updates that fail validation and resets the
// bookkeeping fields of the others.
func (m *Manager) admit(from string, received []*SyncUpdate, now time.Time) []*SyncUpdate {
	res := []*SyncUpdate{}
	rejected := 0
	for _, r := range received {
		if err := m.validate(r); err != nil {
			rejected++
			m.logger.WithError(err).WithFields(logrus.Fields{
				"from": from,
				"id":   r.ID,
			}).Warn("Rejecting received update")
			continue
		}
		u := r.clone()
		u.Destination = ""
		u.Status = Completed
		u.RetryCount = 0
		u.UpdatedAt = now.UTC()
		res = append(res, u)
	}
	m.metrics.AddReceived(len(res), rejected)
	return res
}

// apply resolves received updates and completes the sent ones in a single
// transaction.
func (m *Manager) apply(from string, received []*SyncUpdate, sent []*SyncUpdate) ([]*SyncUpdate, error) {
	now := m.now()
	admitted := m.admit(from, received, now)

	var accepted []*SyncUpdate
	err := m.withTx(func(tx Tx) error {
		// copies changed by Enqueue since the batch was fetched are not
		// completed, their new content was not sent.
		var complete []*SyncUpdate
		for _, u := range sent {
			cur, err := getCopy(tx, u)
			if err != nil {
				return err
			}
			if cur != nil && cur.SameContent(u) {
				complete = append(complete, u)
			}
		}

		var merged map[string]bool
		var err error
		accepted, merged, err = m.resolveInto(tx, admitted, now)
		if err != nil {
			return err
		}

		for _, u := range complete {
			if merged[u.ID] {
				continue
			}
			if err := tx.UpdateStatus(u.Key(), Completed, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, newErr(StorageFailure, from, err, "applying updates")
	}

	return accepted, nil
}

func (m *Manager) resolveInto(tx Tx, received []*SyncUpdate, now time.Time) ([]*SyncUpdate, map[string]bool, error) {
	accepted := []*SyncUpdate{}
	merged := make(map[string]bool)

	for _, r := range received {
		copies, err := tx.GetUpdates(r.ID)
		if err != nil {
			return nil, nil, err
		}

		if len(copies) == 0 {
			if err := tx.InsertUpdate(r); err != nil {
				return nil, nil, err
			}
			accepted = append(accepted, r)
			continue
		}

		res := Resolve(representative(copies), r)
		if res.Outcome == Merge {
			if err := m.validator.ValidateUpdate(res.Update.Payload); err != nil {
				m.logger.WithError(err).WithField("id", r.ID).Warn("Merged update invalid, settling")
				res = Settle(representative(copies), r)
			}
		}
		m.metrics.ObserveResolution(res.Outcome.String())

		switch res.Outcome {
		case Replace:
			for _, c := range copies {
				if err := tx.PutUpdate(c.WithContent(r, now)); err != nil {
					return nil, nil, err
				}
			}
			accepted = append(accepted, r)
		case Merge:
			for _, c := range copies {
				u := c.WithContent(res.Update, now)
				if c.Destination != "" {
					u.Status = Pending
					u.RetryCount = 0
				}
				if err := tx.PutUpdate(u); err != nil {
					return nil, nil, err
				}
			}
			merged[r.ID] = true
			accepted = append(accepted, res.Update)
			m.logger.WithField("id", r.ID).Warn("Merged concurrent updates")
		}
	}

	return accepted, merged, nil
}

func getCopy(tx Tx, u *SyncUpdate) (*SyncUpdate, error) {
	copies, err := tx.GetUpdates(u.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range copies {
		if c.Destination == u.Destination {
			return c, nil
		}
	}
	return nil, nil
}

func (m *Manager) setStatus(batch []*SyncUpdate, status UpdateStatus) error {
	if len(batch) == 0 {
		return nil
	}
	now := m.now()
	return m.withTx(func(tx Tx) error {
		for _, u := range batch {
			if err := tx.UpdateStatus(u.Key(), status, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// failBatch applies the batch failure rule to every update of the batch that
// still holds the content that was synced.
func (m *Manager) failBatch(batch []*SyncUpdate) error {
	if len(batch) == 0 {
		return nil
	}
	now := m.now()
	failed := 0
	err := m.withTx(func(tx Tx) error {
		for _, u := range batch {
			cur, err := getCopy(tx, u)
			if err != nil {
				return err
			}
			if cur == nil || !cur.SameContent(u) {
				continue
			}
			next := cur.WithFailure(m.conf.MaxRetries, now)
			if next.Status == Failed {
				failed++
			}
			if err := tx.PutUpdate(next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.metrics.AddFailed(failed)
	return nil
}

func (m *Manager) withTx(f func(Tx) error) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	tx, err := m.storage.Begin()
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

func (m *Manager) fireAccepted(accepted []*SyncUpdate) {
	if m.onAccepted == nil {
		return
	}
	for _, u := range accepted {
		m.onAccepted(u)
	}
}

func (m *Manager) markSeen(id string) {
	if lt, ok := m.discovery.(livenessTracker); ok && id != "" {
		lt.MarkSeen(id)
	}
}

func (m *Manager) markDown(id string) {
	if lt, ok := m.discovery.(livenessTracker); ok {
		lt.MarkDown(id)
	}
}
