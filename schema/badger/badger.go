/*
	Package badger is a reference schema.Service backed by
	dgraph-io/badger: the concrete metastore a deployment would point the
	scheduler's external SchemaService contract at, in place of the "real"
	metastore that spec §1 puts out of scope.

	This is storage for the *external* collaborator only. It is not
	scheduler state: per spec's Non-goals, restarting the process still
	re-derives every coordinator's in-memory state lazily from whatever
	this store (or the real metastore it stands in for) reports.
*/
package badger

import (
	"context"
	"encoding/binary"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/schema"
)

type Service struct {
	db *badgerdb.DB
}

var _ schema.Service = (*Service)(nil)

// Open opens (creating if necessary) a Badger store at dir.
func Open(dir string) (*Service, error) {
	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, schema.ActionFailure.Wrap(err)
	}
	return &Service{db: db}, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

func partitionKey(id def.ViewID) []byte  { return []byte("partition:" + string(id)) }
func versionKey(id def.ViewID) []byte    { return []byte("version:" + string(id)) }
func timestampKey(id def.ViewID) []byte  { return []byte("ts:" + string(id)) }

func (s *Service) AddPartition(ctx context.Context, view *def.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(partitionKey(view.ID), []byte{1})
	})
	if err != nil {
		return schema.ActionFailure.Wrap(err)
	}
	return nil
}

func (s *Service) SetViewVersion(ctx context.Context, view *def.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(versionKey(view.ID), []byte(view.VersionDigest))
	})
	if err != nil {
		return schema.ActionFailure.Wrap(err)
	}
	return nil
}

func (s *Service) CheckViewVersion(ctx context.Context, view *def.View) (schema.VersionCheck, error) {
	if err := ctx.Err(); err != nil {
		return schema.ViewVersionMismatch, err
	}
	var stored string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(versionKey(view.ID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			stored = string(val)
			return nil
		})
	})
	if err != nil {
		return schema.ViewVersionMismatch, schema.ActionFailure.Wrap(err)
	}
	if stored != view.VersionDigest {
		return schema.ViewVersionMismatch, nil
	}
	return schema.ViewVersionOk, nil
}

func (s *Service) LogTransformationTimestamp(ctx context.Context, view *def.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := uint64(time.Now().UnixMilli())
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, now)
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(timestampKey(view.ID), buf)
	})
	if err != nil {
		return schema.ActionFailure.Wrap(err)
	}
	return nil
}

func (s *Service) GetTransformationTimestamp(ctx context.Context, view *def.View) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var ts uint64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(timestampKey(view.ID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ts = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		return 0, schema.ActionFailure.Wrap(err)
	}
	return ts, nil
}
