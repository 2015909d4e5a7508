package consensus

import (
	"fmt"
	"strings"
	"time"

	"github.com/handreceipt/ledger/src/chain"
)

// Severity ranks rule failures. Only Critical failures invalidate a block.
type Severity int

const (
	// Info ...
	Info Severity = iota
	// Warning ...
	Warning
	// Critical ...
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	default:
		return "Critical"
	}
}

// Check is the outcome of one rule.
type Check struct {
	Rule     string
	Severity Severity
	Passed   bool
	Message  string
}

// ValidationResult collects the checks run on a block.
type ValidationResult struct {
	Valid  bool
	Checks []Check
}

// Failures returns the failed checks of at least the given severity.
func (r ValidationResult) Failures(min Severity) []Check {
	var res []Check
	for _, c := range r.Checks {
		if !c.Passed && c.Severity >= min {
			res = append(res, c)
		}
	}
	return res
}

func (r ValidationResult) String() string {
	var parts []string
	for _, c := range r.Failures(Info) {
		parts = append(parts, fmt.Sprintf("%s(%s): %s", c.Rule, c.Severity, c.Message))
	}
	return strings.Join(parts, "; ")
}

type ruleContext struct {
	conf       *Config
	validators map[string]*chain.Validator
	now        time.Time
}

type rule struct {
	name     string
	severity Severity
	check    func(ctx *ruleContext, b *chain.Block) error
}

func defaultRules() []rule {
	return []rule{
		{"block-size", Critical, checkBlockSize},
		{"transaction-count", Critical, checkTransactionCount},
		{"merkle-root", Critical, checkMerkleRoot},
		{"classification", Critical, checkClassification},
		{"signatures", Critical, checkSignatures},
		{"signed", Critical, checkSigned},
		{"difficulty", Critical, checkDifficulty},
		{"timestamp", Warning, checkTimestamp},
	}
}

func evaluate(rules []rule, ctx *ruleContext, b *chain.Block) ValidationResult {
	res := ValidationResult{Valid: true}
	for _, r := range rules {
		c := Check{Rule: r.name, Severity: r.severity, Passed: true}
		if err := r.check(ctx, b); err != nil {
			c.Passed = false
			c.Message = err.Error()
			if r.severity == Critical {
				res.Valid = false
			}
		}
		res.Checks = append(res.Checks, c)
	}
	return res
}

func checkBlockSize(ctx *ruleContext, b *chain.Block) error {
	if size := b.PayloadSize(); size > ctx.conf.MaxBlockSize {
		return fmt.Errorf("%d bytes exceeds %d", size, ctx.conf.MaxBlockSize)
	}
	return nil
}

func checkTransactionCount(ctx *ruleContext, b *chain.Block) error {
	n := len(b.Transactions)
	if n == 0 {
		return fmt.Errorf("no transactions")
	}
	if n > ctx.conf.MaxTransactions {
		return fmt.Errorf("%d transactions exceeds %d", n, ctx.conf.MaxTransactions)
	}
	return nil
}

func checkMerkleRoot(ctx *ruleContext, b *chain.Block) error {
	root, err := chain.ComputeMerkleRoot(b.Transactions)
	if err != nil {
		return err
	}
	if root != b.Header.MerkleRoot {
		return fmt.Errorf("header root %s, computed %s", b.Header.MerkleRoot, root)
	}
	return nil
}

func checkClassification(ctx *ruleContext, b *chain.Block) error {
	if max := chain.MaxClassification(b.Transactions); b.Header.Classification < max {
		return fmt.Errorf("block marked %s holds %s transactions", b.Header.Classification, max)
	}
	return nil
}

func checkSignatures(ctx *ruleContext, b *chain.Block) error {
	for id := range b.Signatures {
		if _, ok := ctx.validators[id]; !ok {
			return fmt.Errorf("signed by unknown validator %s", id)
		}
		if !b.VerifySignature(id) {
			return fmt.Errorf("bad signature from %s", id)
		}
	}
	return nil
}

// checkSigned requires a signature from an active validator. checkSignatures
// has already rejected unknown or bad signers.
func checkSigned(ctx *ruleContext, b *chain.Block) error {
	if len(b.Signatures) == 0 {
		return fmt.Errorf("block is unsigned")
	}
	for id := range b.Signatures {
		if v, ok := ctx.validators[id]; ok && v.Status == chain.ValidatorActive {
			return nil
		}
	}
	return fmt.Errorf("no signature from an active validator")
}

func checkDifficulty(ctx *ruleContext, b *chain.Block) error {
	d := b.Header.Difficulty
	if d < ctx.conf.MinDifficulty || d > ctx.conf.MaxDifficulty {
		return fmt.Errorf("difficulty %d outside [%d, %d]", d, ctx.conf.MinDifficulty, ctx.conf.MaxDifficulty)
	}
	return nil
}

func checkTimestamp(ctx *ruleContext, b *chain.Block) error {
	if b.Header.CreatedAt.After(ctx.now.Add(ctx.conf.MaxClockSkew)) {
		return fmt.Errorf("created at %s is in the future", b.Header.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
