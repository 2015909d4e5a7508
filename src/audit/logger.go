package audit

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/merkle"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// Logger keeps the hash-chained trail and mirrors it to a log file. It
// satisfies the audit interface of the consensus engine.
type Logger struct {
	sync.Mutex

	records  []Record
	lastHash string

	sink   *logrus.Logger
	logger *logrus.Entry
}

// NewLogger creates an audit Logger. If path is not empty, records are
// appended to that file as JSON lines; the file must be writable. logger
// receives debug traces and may be nil.
func NewLogger(path string, logger *logrus.Entry) (*Logger, error) {
	if logger == nil {
		logger = logrus.New().WithField("prefix", "audit")
	}

	sink := logrus.New()
	sink.Level = logrus.InfoLevel
	sink.Out = ioutil.Discard

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %v", err)
		}
		f.Close()

		sink.Hooks.Add(lfshook.NewHook(
			lfshook.PathMap{logrus.InfoLevel: path},
			&logrus.JSONFormatter{},
		))
	}

	return &Logger{
		sink:   sink,
		logger: logger,
	}, nil
}

// LogEvent appends a record to the trail and writes it to the sink.
func (l *Logger) LogEvent(event string, fields map[string]interface{}) error {
	l.Lock()
	defer l.Unlock()

	r := Record{
		Sequence:  uint64(len(l.records)),
		Event:     event,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
		PrevHash:  l.lastHash,
	}

	h, err := r.computeHash()
	if err != nil {
		return fmt.Errorf("hashing audit record %s: %v", event, err)
	}
	r.Hash = h

	l.records = append(l.records, r)
	l.lastHash = h

	entry := l.sink.WithFields(logrus.Fields{
		"seq":       r.Sequence,
		"prev_hash": r.PrevHash,
		"hash":      r.Hash,
	})
	for k, v := range fields {
		entry = entry.WithField("ctx_"+k, v)
	}
	entry.Info(event)

	l.logger.WithFields(logrus.Fields{
		"event": event,
		"seq":   r.Sequence,
	}).Debug("Audit")

	return nil
}

// Records returns a copy of the trail.
func (l *Logger) Records() []Record {
	l.Lock()
	defer l.Unlock()
	res := make([]Record, len(l.records))
	copy(res, l.records)
	return res
}

// Len ...
func (l *Logger) Len() int {
	l.Lock()
	defer l.Unlock()
	return len(l.records)
}

// Verify checks the links and hashes of the trail.
func (l *Logger) Verify() error {
	return VerifyTrail(l.Records())
}

// Seal returns the Merkle root over the record hashes, or the empty string for
// an empty trail.
func (l *Logger) Seal() (string, error) {
	records := l.Records()
	leaves := make([][]byte, len(records))
	for i, r := range records {
		h, err := common.DecodeFromString(r.Hash)
		if err != nil {
			return "", err
		}
		leaves[i] = merkle.LeafHash(h)
	}
	root, ok := merkle.NewFromLeaves(leaves).Root()
	if !ok {
		return "", nil
	}
	return common.EncodeToString(root), nil
}

// VerifyTrail checks that every record hashes to its Hash and links to its
// predecessor.
func VerifyTrail(records []Record) error {
	prev := ""
	for i := range records {
		r := &records[i]
		if r.Sequence != uint64(i) {
			return fmt.Errorf("record %d has sequence %d", i, r.Sequence)
		}
		if r.PrevHash != prev {
			return fmt.Errorf("record %d does not link to its predecessor", i)
		}
		h, err := r.computeHash()
		if err != nil {
			return err
		}
		if h != r.Hash {
			return fmt.Errorf("record %d was altered", i)
		}
		prev = r.Hash
	}
	return nil
}
