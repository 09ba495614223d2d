/*
	Package mem is an in-memory schema.Service, the way
	model/cassandra/impl/mem stood in for a real metastore: every record
	lives in a map, guarded by one mutex, and nothing survives a restart
	(which is fine -- spec's Non-goals say the scheduler itself doesn't
	either).
*/
package mem

import (
	"context"
	"sync"
	"time"

	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/schema"
)

type Service struct {
	mutex sync.Mutex

	partitions     map[def.ViewID]bool
	versions       map[def.ViewID]string
	timestamps     map[def.ViewID]uint64
	addPartitionCt map[def.ViewID]int
}

var _ schema.Service = (*Service)(nil)

func New() *Service {
	return &Service{
		partitions:     make(map[def.ViewID]bool),
		versions:       make(map[def.ViewID]string),
		timestamps:     make(map[def.ViewID]uint64),
		addPartitionCt: make(map[def.ViewID]int),
	}
}

func (s *Service) AddPartition(ctx context.Context, view *def.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.partitions[view.ID] = true
	s.addPartitionCt[view.ID]++
	return nil
}

func (s *Service) SetViewVersion(ctx context.Context, view *def.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.versions[view.ID] = view.VersionDigest
	return nil
}

func (s *Service) CheckViewVersion(ctx context.Context, view *def.View) (schema.VersionCheck, error) {
	if err := ctx.Err(); err != nil {
		return schema.ViewVersionMismatch, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.versions[view.ID] != view.VersionDigest {
		return schema.ViewVersionMismatch, nil
	}
	return schema.ViewVersionOk, nil
}

func (s *Service) LogTransformationTimestamp(ctx context.Context, view *def.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.timestamps[view.ID] = uint64(time.Now().UnixMilli())
	return nil
}

func (s *Service) GetTransformationTimestamp(ctx context.Context, view *def.View) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.timestamps[view.ID], nil
}

// HasPartition is test-only plumbing: asserting a partition got
// registered without exposing map internals.
func (s *Service) HasPartition(view def.ViewID) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.partitions[view]
}

// SetTimestamp lets a test seed lastTransformationTs-equivalent state
// without going through LogTransformationTimestamp's "now" semantics.
func (s *Service) SetTimestamp(view def.ViewID, ts uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.timestamps[view] = ts
}

// SetVersion lets a test seed a stored version digest directly.
func (s *Service) SetVersion(view def.ViewID, digest string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.versions[view] = digest
}

// PartitionCount reports how many times AddPartition was called for
// view, so a test can assert a transformation was attempted a specific
// number of times without instrumenting the coordinator itself.
func (s *Service) PartitionCount(view def.ViewID) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.addPartitionCt[view]
}
