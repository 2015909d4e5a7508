package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/handreceipt/ledger/src/chain"
	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/merkle"
	"github.com/handreceipt/ledger/src/peers"
	"github.com/handreceipt/ledger/src/replication"
	"github.com/sirupsen/logrus"
)

// Node is what the service reads from a ledger node.
type Node interface {
	GetStats() map[string]string
	GetBlock(height uint64) (*chain.Block, error)
	ChainState() chain.ChainState
	GetValidators() []*chain.Validator
	GetPeers() []*peers.Peer
	GetPeerStates() map[string]replication.PeerState
	GetFailedUpdates() ([]*replication.SyncUpdate, error)
	GetProof(height uint64, txID string) (*merkle.Proof, error)
}

// Service is the read-only HTTP API of a node.
type Service struct {
	sync.Mutex

	bindAddress string
	node        Node
	metrics     http.Handler
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ... metrics may be nil, in which case /metrics is not served.
func NewService(bindAddress string, n Node, metrics http.Handler, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		metrics:     metrics,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering ledger API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	s.mux.HandleFunc("/chain", s.makeHandler(s.GetChain))
	s.mux.HandleFunc("/validators", s.makeHandler(s.GetValidators))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/sync/peers", s.makeHandler(s.GetPeerStates))
	s.mux.HandleFunc("/updates/failed", s.makeHandler(s.GetFailedUpdates))
	s.mux.HandleFunc("/proof/", s.makeHandler(s.GetProof))
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving every endpoint.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving ledger API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetBlock ...
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/block/"):]

	height, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing height parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	block, err := s.node.GetBlock(height)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving block %d", height)
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	writeJSON(w, block)
}

// GetChain returns the state of the chain tip.
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	st := s.node.ChainState()
	writeJSON(w, map[string]interface{}{
		"height":            st.Height,
		"last_block_hash":   st.LastBlockHash,
		"transaction_count": st.TransactionCount,
		"status":            st.Status.String(),
	})
}

// GetValidators ...
func (s *Service) GetValidators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetValidators())
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetPeers())
}

// GetPeerStates returns the sync state of every peer.
func (s *Service) GetPeerStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetPeerStates())
}

// GetFailedUpdates lists the updates waiting for the failed-update cleanup.
func (s *Service) GetFailedUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := s.node.GetFailedUpdates()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving failed updates")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, updates)
}

// GetProof serves /proof/{height}/{txid}: the Merkle proof of a transaction
// in a committed block.
func (s *Service) GetProof(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path[len("/proof/"):], "/"), "/")
	if len(parts) != 2 {
		http.Error(w, "expected /proof/{height}/{txid}", http.StatusBadRequest)
		return
	}

	height, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	proof, err := s.node.GetProof(height, parts[1])
	if err != nil {
		s.logger.WithError(err).Errorf("Proving %s in block %d", parts[1], height)
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	writeJSON(w, map[string]interface{}{
		"height": height,
		"tx_id":  parts[1],
		"proof":  proof,
		"valid":  merkle.VerifyProof(proof.Root, proof),
	})
}

func statusOf(err error) int {
	if common.IsStore(err, common.KeyNotFound) || errors.Is(err, merkle.ErrLeafNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
