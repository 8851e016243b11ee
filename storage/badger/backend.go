package badger

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Backend owns the BadgerDB handle shared by the repositories.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBackend opens the archive database rooted at dir, creating the
// directory when missing. An empty dir with inMemory set runs entirely
// in memory, which the tests rely on.
func OpenBackend(dir string, inMemory bool) (*Backend, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}

	// Stored records are msgpack and mus encoded already; badger's own
	// compression buys little on top and costs CPU on every scan.
	opts.Compression = options.None

	logger := slog.Default().With("component", "storage")
	opts.Logger = quietBadgerLogger{logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Backend{db: db, logger: logger}, nil
}

// WithTx runs fn inside a transaction. Write transactions must be
// committed by fn; the deferred Discard is a no-op after a commit.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// quietBadgerLogger routes badger's logger onto slog, demoting its
// chatty info output to debug so interactive commands stay readable.
type quietBadgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = quietBadgerLogger{}

func (l quietBadgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l quietBadgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l quietBadgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l quietBadgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
