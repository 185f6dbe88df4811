package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/config"
	"github.com/mpataki/pipestatus/internal/log"
)

const (
	badgerStatusPrefix   = "s/"
	badgerRegistryPrefix = "p/"
)

type Badger struct {
	db *badger.DB
}

var _ Backend = (*Badger)(nil)

func NewBadger(cfg config.Badger) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLogger{l: log.New("badger")}).
		WithLoggingLevel(badger.WARNING)
	opts.MetricsEnabled = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger database")
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) GetStatus(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerStatusPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}
	return value, nil
}

func (b *Badger) SetStatus(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerStatusPrefix+key), value)
	})
	return errors.Wrapf(err, "failed to set %s", key)
}

func (b *Badger) DelStatus(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerStatusPrefix + key))
	})
	return errors.Wrapf(err, "failed to delete %s", key)
}

func (b *Badger) RegisterPipelineID(_ context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerRegistryPrefix+id), nil)
	})
	return errors.Wrapf(err, "failed to register pipeline %s", id)
}

func (b *Badger) DeregisterPipelineID(_ context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerRegistryPrefix + id))
	})
	return errors.Wrapf(err, "failed to deregister pipeline %s", id)
}

// AllPipelineIDs relies on badger iterating keys in byte order.
func (b *Badger) AllPipelineIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerRegistryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().KeyCopy(nil))
			ids = append(ids, strings.TrimPrefix(key, badgerRegistryPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipelines")
	}
	return ids, nil
}

type badgerLogger struct {
	l *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.l.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
