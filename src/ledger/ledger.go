// Package ledger assembles the components of a hand-receipt node from a
// Config and a data directory.
package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/handreceipt/ledger/src/audit"
	"github.com/handreceipt/ledger/src/authority"
	"github.com/handreceipt/ledger/src/chain"
	"github.com/handreceipt/ledger/src/config"
	"github.com/handreceipt/ledger/src/consensus"
	"github.com/handreceipt/ledger/src/crypto"
	"github.com/handreceipt/ledger/src/crypto/keys"
	"github.com/handreceipt/ledger/src/metrics"
	"github.com/handreceipt/ledger/src/net"
	"github.com/handreceipt/ledger/src/node"
	"github.com/handreceipt/ledger/src/peers"
	"github.com/handreceipt/ledger/src/replication"
	"github.com/handreceipt/ledger/src/service"
	"github.com/sirupsen/logrus"
)

// Ledger is a struct containing the key parts of a node: transport, stores,
// consensus engine, replication manager, node and service.
type Ledger struct {
	Config      *config.Config
	Node        *node.Node
	Transport   net.Transport
	ChainStore  chain.Store
	SyncStorage replication.Storage
	Audit       *audit.Logger
	Engine      *consensus.Engine
	Authority   *authority.Node
	Peers       *peers.PeerSet
	Discovery   *peers.Discovery
	Sync        *replication.Manager
	Metrics     *metrics.Metrics
	Service     *service.Service
	logger      *logrus.Entry
}

// NewLedger is a factory method to produce a Ledger instance.
func NewLedger(c *config.Config) *Ledger {
	engine := &Ledger{
		Config:  c,
		Metrics: metrics.New(),
		logger:  c.Logger(),
	}

	return engine
}

// Init initialises the ledger based on its configuration. It loads the key,
// the peers and the authority identity, opens the stores, and creates the
// transport, the node and the service.
func (l *Ledger) Init() error {
	l.logger.Debug("validateConfig")
	if err := l.validateConfig(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() validateConfig")
		return err
	}

	l.logger.Debug("initKey")
	if err := l.initKey(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initKey")
		return err
	}

	l.logger.Debug("initPeers")
	if err := l.initPeers(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initPeers")
		return err
	}

	l.logger.Debug("initAuthority")
	if err := l.initAuthority(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initAuthority")
		return err
	}

	l.logger.Debug("initStore")
	if err := l.initStore(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initStore")
		return err
	}

	l.logger.Debug("initEngine")
	if err := l.initEngine(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initEngine")
		return err
	}

	l.logger.Debug("initTransport")
	if err := l.initTransport(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initTransport")
		return err
	}

	l.logger.Debug("initNode")
	if err := l.initNode(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initNode")
		return err
	}

	l.logger.Debug("initService")
	if err := l.initService(); err != nil {
		l.logger.WithError(err).Error("ledger.go:Init() initService")
		return err
	}

	return nil
}

// Run starts the service, if any, and runs the node until it is shut down.
func (l *Ledger) Run() {
	if l.Service != nil {
		go l.Service.Serve()
	}

	l.Node.Run()
}

// Shutdown stops the node and closes the chain store. The node closes the
// transport and the sync storage itself.
func (l *Ledger) Shutdown() {
	if l.Node != nil {
		l.Node.Shutdown()
	}

	if l.ChainStore != nil {
		if err := l.ChainStore.Close(); err != nil {
			l.logger.WithError(err).Error("Closing chain store")
		}
	}
}

func (l *Ledger) validateConfig() error {
	// If --datadir was explicitly set, but not --db, the following line will
	// update the default database dir to be inside the new datadir
	l.Config.SetDataDir(l.Config.DataDir)

	if l.Config.Passphrase == "" {
		return fmt.Errorf("a passphrase is required to seal updates between nodes")
	}

	if l.Config.SyncInterval <= 0 {
		return fmt.Errorf("sync-interval must be positive, not %v", l.Config.SyncInterval)
	}

	if l.Config.RetentionDays < 1 {
		return fmt.Errorf("retention-days must be at least 1, not %d", l.Config.RetentionDays)
	}

	l.logger.WithFields(logrus.Fields{
		"datadir":          l.Config.DataDir,
		"log":              l.Config.LogLevel,
		"listen":           l.Config.BindAddr,
		"advertise":        l.Config.AdvertiseAddr,
		"service-listen":   l.Config.ServiceAddr,
		"no-service":       l.Config.NoService,
		"max-pool":         l.Config.MaxPool,
		"timeout":          l.Config.TCPTimeout,
		"store":            l.Config.Store,
		"db":               l.Config.DatabaseDir,
		"moniker":          l.Config.Moniker,
		"primary":          l.Config.Primary,
		"sync-interval":    l.Config.SyncInterval,
		"cleanup-interval": l.Config.CleanupInterval,
		"retention-days":   l.Config.RetentionDays,
	}).Debug("Config")

	return nil
}

func (l *Ledger) initKey() error {
	if l.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(l.Config.Keyfile())

		privKey, err := simpleKeyfile.ReadKey()
		if err != nil {
			l.logger.Errorf("Error reading private key from file: %v", err)
			return err
		}

		l.Config.Key = privKey
	}
	return nil
}

func (l *Ledger) initPeers() error {
	if l.Peers != nil {
		return nil
	}

	peerStore := peers.NewJSONPeerSet(l.Config.DataDir)

	participants, err := peerStore.PeerSet()
	if err != nil {
		return err
	}

	self := keys.PublicKeyHex(&l.Config.Key.PublicKey)
	if _, ok := participants.ByPubKey[self]; !ok {
		return fmt.Errorf("cannot find self pubkey in peers.json")
	}

	l.Peers = participants

	return nil
}

func (l *Ledger) initAuthority() error {
	id, err := authority.LoadIdentity(l.Config.DataDir)
	if err != nil {
		return err
	}

	l.Authority = authority.NewNode(
		id.Unit,
		l.Config.Key,
		id.Certificate,
		l.Config.Primary,
		id.Hierarchy,
		l.Config.Logger().WithField("prefix", "authority"),
	)

	return nil
}

func (l *Ledger) initStore() error {
	var err error

	auditPath := l.Config.AuditFile()
	l.Audit, err = audit.NewLogger(auditPath, l.Config.Logger().WithField("prefix", "audit"))
	if err != nil {
		return err
	}

	if !l.Config.Store {
		l.ChainStore = chain.NewInmemStore()
		l.SyncStorage = replication.NewInmemStorage()

		l.logger.Debug("created new in-mem stores")
		return nil
	}

	dbLogger := l.Config.Logger().WithField("prefix", "badger")

	l.logger.WithField("path", l.Config.DatabaseDir).Debug("Attempting to load or create database")

	if err := os.MkdirAll(l.Config.DatabaseDir, 0700); err != nil {
		return err
	}

	chainStore, err := chain.NewBadgerStore(l.Config.ChainDir(), dbLogger)
	if err != nil {
		return err
	}

	syncStorage, err := replication.NewBadgerStorage(l.Config.SyncDir(), dbLogger)
	if err != nil {
		chainStore.Close()
		return err
	}

	l.ChainStore = chainStore
	l.SyncStorage = syncStorage

	return nil
}

func (l *Ledger) initEngine() error {
	engine, err := consensus.NewEngine(
		&l.Config.Consensus,
		l.ChainStore,
		l.Audit,
		l.Config.Logger().WithField("prefix", "consensus"),
	)
	if err != nil {
		return err
	}

	validators := make([]*chain.Validator, 0, l.Peers.Len())
	for _, p := range l.Peers.Peers {
		validators = append(validators, chain.NewValidator(p.PubKeyHex, p.Moniker))
	}

	if err := engine.Bootstrap(validators); err != nil {
		return err
	}

	l.Engine = engine

	return nil
}

func (l *Ledger) initTransport() error {
	if l.Transport != nil {
		return nil
	}

	transport, err := net.NewTCPTransport(
		l.Config.BindAddr,
		l.Config.AdvertiseAddr,
		l.Config.MaxPool,
		l.Config.TCPTimeout,
		l.Config.ChainTimeout,
		l.Config.Logger().WithField("prefix", "transport"),
	)
	if err != nil {
		return err
	}

	l.Transport = transport

	return nil
}

func (l *Ledger) initNode() error {
	validator := node.NewValidator(l.Config.Key, l.Config.Moniker)

	l.logger.WithFields(logrus.Fields{
		"peers":   l.Peers.Len(),
		"id":      validator.ID(),
		"unit":    l.Authority.Unit(),
		"primary": l.Authority.Primary(),
	}).Debug("PARTICIPANTS")

	box, err := crypto.NewSecretBoxFromPassphrase(l.Config.Passphrase)
	if err != nil {
		return err
	}

	l.Discovery = peers.NewDiscovery(l.Peers, validator.ID(), l.Config.Quarantine)

	l.Sync = replication.NewManager(
		&l.Config.Sync,
		validator.ID(),
		l.SyncStorage,
		l.Discovery,
		replication.NewTransportExchanger(l.Transport, validator.ID()),
		box,
		authority.NewUpdateValidator(l.Authority),
		l.Engine,
		l.Config.Logger().WithField("prefix", "sync"),
	)
	l.Sync.SetMetrics(l.Metrics)

	l.Node = node.NewNode(
		l.Config.NodeConfig(),
		validator,
		l.Authority,
		l.Engine,
		l.Sync,
		l.Discovery,
		l.Transport,
		l.Metrics,
	)

	if err := l.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	// the transport starts accepting once the node consumes its channel
	go l.Transport.Listen()

	return nil
}

func (l *Ledger) initService() error {
	if !l.Config.NoService {
		l.Service = service.NewService(
			l.Config.ServiceAddr,
			l.Node,
			l.Metrics.Handler(),
			l.Config.Logger().WithField("prefix", "service"),
		)
	}
	return nil
}

// Keygen generates a new key and writes it to the keyfile of datadir. It
// refuses to overwrite an existing key.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	conf := config.NewDefaultConfig()
	conf.SetDataDir(datadir)

	simpleKeyfile := keys.NewSimpleKeyfile(conf.Keyfile())

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
