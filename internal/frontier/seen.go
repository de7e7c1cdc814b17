package frontier

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	seenKeyPrefix      = "seen:"
	maxConflictRetries = 10
)

// SeenConfig locates the seen-set database.
type SeenConfig struct {
	// Dir holds the badger files. Empty keeps the set in memory.
	Dir string
	// Resume keeps an existing set; otherwise Dir is wiped on open.
	Resume bool
}

// SeenSet remembers every URL the frontier has scheduled. It is backed by
// badger so a resumed crawl does not refetch what it already queued.
type SeenSet struct {
	db     *badger.DB
	count  atomic.Int64
	logger *zap.Logger
}

// OpenSeenSet opens (or creates) the set described by cfg.
func OpenSeenSet(cfg SeenConfig, logger *zap.Logger) (*SeenSet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("seen")

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if !cfg.Resume {
			if err := os.RemoveAll(cfg.Dir); err != nil {
				logger.Warn("problem clearing seen-set dir", zap.String("dir", cfg.Dir), zap.Error(err))
			}
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create seen-set dir %s: %w", cfg.Dir, err)
		}
	}
	opts = opts.WithLogger(newBadgerLogger(logger)).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open seen-set: %w", err)
	}
	s := &SeenSet{db: db, logger: logger}
	if cfg.Resume && cfg.Dir != "" {
		n, err := s.countKeys()
		if err != nil {
			logger.Warn("problem counting seen keys", zap.Error(err))
		}
		s.count.Store(int64(n))
		logger.Info("seen-set resumed", zap.Int("keys", n))
	}
	return s, nil
}

// MarkSeen records key and reports whether it was new.
func (s *SeenSet) MarkSeen(key string) (bool, error) {
	added := false
	k := []byte(seenKeyPrefix + key)
	err := s.update(func(txn *badger.Txn) error {
		added = false
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.SetEntry(badger.NewEntry(k, nil)); err != nil {
				return err //nolint:wrapcheck
			}
			added = true
			return nil
		}
		return err //nolint:wrapcheck
	})
	if err != nil {
		return false, fmt.Errorf("mark seen %q: %w", key, err)
	}
	if added {
		s.count.Add(1)
	}
	return added, nil
}

// Seen reports whether key has been recorded.
func (s *SeenSet) Seen(key string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(seenKeyPrefix + key))
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err //nolint:wrapcheck
		}
	})
	if err != nil {
		return false, fmt.Errorf("lookup seen %q: %w", key, err)
	}
	return found, nil
}

// Len reports the number of recorded keys.
func (s *SeenSet) Len() int64 {
	return s.count.Load()
}

// Close releases the database.
func (s *SeenSet) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close seen-set: %w", err)
	}
	return nil
}

// update retries badger transaction conflicts between concurrent workers.
func (s *SeenSet) update(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err //nolint:wrapcheck
		}
		s.logger.Debug("seen-set conflict, retrying", zap.Int("attempt", i+1))
	}
	return fmt.Errorf("seen-set conflict not resolved after %d retries", maxConflictRetries)
}

func (s *SeenSet) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(seenKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count seen keys: %w", err)
	}
	return count, nil
}

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) badger.Logger {
	return &badgerLogger{s: logger.Named("badger").Sugar()}
}

func (l *badgerLogger) Errorf(f string, v ...any)   { l.s.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...any) { l.s.Warnf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...any)    { l.s.Debugf(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...any)   { l.s.Debugf(f, v...) }
