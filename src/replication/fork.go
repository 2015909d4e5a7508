package replication

import (
	"github.com/handreceipt/ledger/src/chain"
	"github.com/sirupsen/logrus"
)

// ForkOutcome says what HandleFork did with a competing chain.
type ForkOutcome uint8

const (
	// ForkIgnored chains are not heavier than the local one.
	ForkIgnored ForkOutcome = iota
	// ForkRejected chains are heavier but invalid.
	ForkRejected
	// ForkAdopted chains replaced the local one.
	ForkAdopted
)

func (o ForkOutcome) String() string {
	switch o {
	case ForkIgnored:
		return "ignored"
	case ForkRejected:
		return "rejected"
	case ForkAdopted:
		return "adopted"
	default:
		return "unknown"
	}
}

// HandleFork adopts a competing chain if its cumulative difficulty is strictly
// greater than the local one and it passes full validation. An invalid chain
// is logged and discarded; the returned error is only set when the local chain
// cannot be read.
func (m *Manager) HandleFork(blocks []*chain.Block) (ForkOutcome, error) {
	local, err := m.engine.CumulativeDifficulty()
	if err != nil {
		return ForkIgnored, newErr(Consensus, "", err, "reading cumulative difficulty")
	}

	competing := chain.CumulativeDifficulty(blocks)

	logger := m.logger.WithFields(logrus.Fields{
		"local_difficulty":     local,
		"competing_difficulty": competing,
		"competing_height":     len(blocks),
	})

	if competing <= local {
		logger.Debug("Ignoring competing chain")
		m.metrics.ObserveFork(ForkIgnored.String(), m.engine.ChainState().Height)
		return ForkIgnored, nil
	}

	if err := m.engine.ReplaceChain(blocks); err != nil {
		logger.WithError(err).Warn("Rejecting competing chain")
		m.metrics.ObserveFork(ForkRejected.String(), m.engine.ChainState().Height)
		return ForkRejected, nil
	}

	logger.Info("Adopted competing chain")
	m.metrics.ObserveFork(ForkAdopted.String(), m.engine.ChainState().Height)

	return ForkAdopted, nil
}
