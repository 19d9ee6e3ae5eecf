package persist

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

const (
	kindExperiment = "experiment"
	kindSource     = "source"
	kindDevice     = "device"
	kindEpochGroup = "epochgroup"
	kindEpochBlock = "epochblock"
	kindEpoch      = "epoch"
	kindResponse   = "response"
	kindStimulus   = "stimulus"
	kindBackground = "background"
	kindNote       = "note"
)

const metaRootKey = "root"

// Session layers the entity tree's insertion ordering on top of a
// Container: an open stack of nested EpochGroups and at most one open
// EpochBlock, with only one mutator allowed mid-change at a time. Every
// public operation takes its own bolt transaction, so a crash or early
// return never leaves the container in a half-written state.
type Session struct {
	mu         sync.Mutex
	container  *Container
	root       *Entity
	groupStack []*Entity
	openBlock  *Entity
}

// BeginExperiment opens a session over an empty, freshly Created container,
// creating its single root Experiment entity. It is an error to call this
// on a container that already has a root (re-open with OpenSession
// instead).
func BeginExperiment(container *Container, purpose string, startTime time.Time) (*Session, error) {
	s := &Session{container: container}
	err := container.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if meta.Get([]byte(metaRootKey)) != nil {
			return fmt.Errorf("persist: container already has a root experiment")
		}
		root, err := entitiesRoot(tx)
		if err != nil {
			return err
		}
		id := newRootID()
		b, err := root.CreateBucket([]byte(id))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(keyKind), []byte(kindExperiment)); err != nil {
			return err
		}
		entity := container.cache().getOrCreate(container, id, kindExperiment)
		if err := entity.SetAttribute(tx, "purpose", symphonycore.StringValue(purpose)); err != nil {
			return err
		}
		if err := setTimelineTime(tx, entity, "startTime", startTime); err != nil {
			return err
		}
		s.root = entity
		return meta.Put([]byte(metaRootKey), []byte(id))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSession resumes a session over a container whose root Experiment was
// already created by a prior BeginExperiment call.
func OpenSession(container *Container) (*Session, error) {
	s := &Session{container: container}
	err := container.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		id := meta.Get([]byte(metaRootKey))
		if id == nil {
			return fmt.Errorf("persist: container has no root experiment, use BeginExperiment")
		}
		entity, err := container.entityByID(tx, string(id))
		if err != nil {
			return err
		}
		s.root = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the session's root Experiment entity.
func (s *Session) Root() *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// currentParent returns the innermost open EpochGroup, or the root
// Experiment if no group is open. Caller holds s.mu.
func (s *Session) currentParent() *Entity {
	if len(s.groupStack) > 0 {
		return s.groupStack[len(s.groupStack)-1]
	}
	return s.root
}

// AddSource creates a Source entity under the root Experiment.
func (s *Session) AddSource(label string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entity *Entity
	err := s.container.Update(func(tx *bolt.Tx) error {
		e, err := s.root.CreateChild(tx, kindSource)
		if err != nil {
			return err
		}
		if err := e.SetAttribute(tx, "label", symphonycore.StringValue(label)); err != nil {
			return err
		}
		entity = e
		return nil
	})
	return entity, err
}

// PushEpochGroup opens a new EpochGroup nested under the current innermost
// open group (or the root Experiment), and makes it current. It is an
// error to push a new group while an EpochBlock is
// open, mirroring the container's rule that a block must be closed before
// its enclosing group can be reorganized.
func (s *Session) PushEpochGroup(label string, source *Entity) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openBlock != nil {
		return nil, fmt.Errorf("persist: cannot push an epoch group while an epoch block is open")
	}
	parent := s.currentParent()
	var entity *Entity
	err := s.container.Update(func(tx *bolt.Tx) error {
		e, err := parent.CreateChild(tx, kindEpochGroup)
		if err != nil {
			return err
		}
		if err := e.SetAttribute(tx, "label", symphonycore.StringValue(label)); err != nil {
			return err
		}
		if source != nil {
			if err := e.SetAttribute(tx, "source_id", symphonycore.StringValue(source.ID)); err != nil {
				return err
			}
			if err := source.addCrossLink(tx, crossLinkEpochGroup, e.ID); err != nil {
				return err
			}
		}
		entity = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.groupStack = append(s.groupStack, entity)
	return entity, nil
}

// PopEpochGroup closes the innermost open EpochGroup. It is an error to
// call this with no group open or with an EpochBlock still open.
func (s *Session) PopEpochGroup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openBlock != nil {
		return fmt.Errorf("persist: cannot pop an epoch group while an epoch block is open")
	}
	if len(s.groupStack) == 0 {
		return fmt.Errorf("persist: no epoch group is open")
	}
	s.groupStack = s.groupStack[:len(s.groupStack)-1]
	return nil
}

// BeginEpochBlock opens a new EpochBlock under the innermost open group (or
// root), recording protocolID. It is an error to begin a block while one is
// already open.
func (s *Session) BeginEpochBlock(protocolID string, startTime time.Time) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openBlock != nil {
		return nil, fmt.Errorf("persist: an epoch block is already open")
	}
	parent := s.currentParent()
	var entity *Entity
	err := s.container.Update(func(tx *bolt.Tx) error {
		e, err := parent.CreateChild(tx, kindEpochBlock)
		if err != nil {
			return err
		}
		if err := e.SetAttribute(tx, "protocol_id", symphonycore.StringValue(protocolID)); err != nil {
			return err
		}
		if err := setTimelineTime(tx, e, "startTime", startTime); err != nil {
			return err
		}
		entity = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.openBlock = entity
	return entity, nil
}

// EndEpochBlock closes the currently open EpochBlock, stamping its end
// time.
func (s *Session) EndEpochBlock(endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openBlock == nil {
		return fmt.Errorf("persist: no epoch block is open")
	}
	block := s.openBlock
	if err := s.container.Update(func(tx *bolt.Tx) error {
		return setTimelineTime(tx, block, "endTime", endTime)
	}); err != nil {
		return err
	}
	s.openBlock = nil
	return nil
}

// setTimelineTime writes prefix's DateTimeOffset pair onto e:
// prefix+"DotNetDateTimeOffsetTicks" (i64) and
// prefix+"DotNetDateTimeOffsetOffsetHours" (f64), matching the container's
// timeline attribute names for Experiment/EpochBlock start and end times.
func setTimelineTime(tx *bolt.Tx, e *Entity, prefix string, t time.Time) error {
	if err := e.SetAttribute(tx, prefix+"DotNetDateTimeOffsetTicks", symphonycore.IntValue(dotNetTicks(t))); err != nil {
		return err
	}
	return e.SetAttribute(tx, prefix+"DotNetDateTimeOffsetOffsetHours", symphonycore.FloatValue(dotNetOffsetHours(t)))
}

// OpenBlock returns the currently open EpochBlock, or nil.
func (s *Session) OpenBlock() *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openBlock
}

// Close ends the session, refusing to close while a group or block is
// still open (an unclosed session would otherwise silently discard the
// caller's place in the tree). On success it stamps the root Experiment's
// end time, then closes the underlying container.
func (s *Session) Close(endTime time.Time) error {
	s.mu.Lock()
	openBlock := s.openBlock
	openGroups := len(s.groupStack)
	root := s.root
	s.mu.Unlock()
	if openBlock != nil {
		return fmt.Errorf("persist: cannot close session with an epoch block still open")
	}
	if openGroups != 0 {
		return fmt.Errorf("persist: cannot close session with %d epoch group(s) still open", openGroups)
	}
	if err := s.container.Update(func(tx *bolt.Tx) error {
		return setTimelineTime(tx, root, "endTime", endTime)
	}); err != nil {
		return err
	}
	return s.container.Close()
}

// newRootID is used only for the single root Experiment entity, which
// CreateChild's parent-relative path can't create (it has no parent). It
// uses the same uuid package as CreateChild to stay consistent with every
// other entity ID in the container.
func newRootID() string {
	return uuid.NewString()
}
