package persist

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

// crossLinkEpochGroup names the back-reference a Source carries to every
// EpochGroup that cross-links it via PushEpochGroup's source argument.
const crossLinkEpochGroup = "epoch_group"

// Delete removes entity and everything it owns, enforcing the store's
// deletion-safety invariants: the root Experiment, an open EpochGroup and
// the current open EpochBlock can never be deleted, and a Source with any
// associated EpochGroup — direct or via a descendant Source — refuses
// deletion until every referencing group is gone. Deleting an EpochGroup
// recursively deletes its descendant groups, then detaches the back-
// cross-link from its Source.
func (s *Session) Delete(entity *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.ID == s.root.ID {
		return &symphonycore.PersistenceError{Reason: "cannot delete the root experiment"}
	}
	for _, g := range s.groupStack {
		if g.ID == entity.ID {
			return &symphonycore.PersistenceError{Reason: "cannot delete an open epoch group"}
		}
	}
	if s.openBlock != nil && s.openBlock.ID == entity.ID {
		return &symphonycore.PersistenceError{Reason: "cannot delete the current open epoch block"}
	}

	return s.container.Update(func(tx *bolt.Tx) error {
		if entity.Kind == kindSource {
			linked, err := hasDescendantEpochGroup(tx, entity)
			if err != nil {
				return err
			}
			if linked {
				return &symphonycore.PersistenceError{Reason: fmt.Sprintf("cannot delete source %s: it has an associated epoch group", entity.ID)}
			}
		}
		if entity.Kind == kindEpochGroup {
			if err := detachSourceBackLink(tx, entity); err != nil {
				return err
			}
		}
		return entity.deleteRecursive(tx)
	})
}

// hasDescendantEpochGroup reports whether source, or any Source nested
// under it, carries an epoch_group cross-link.
func hasDescendantEpochGroup(tx *bolt.Tx, source *Entity) (bool, error) {
	ids, err := source.crossLinkIDs(tx, crossLinkEpochGroup)
	if err != nil {
		return false, err
	}
	if len(ids) > 0 {
		return true, nil
	}
	children, err := source.Children(tx)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		if c.Kind != kindSource {
			continue
		}
		has, err := hasDescendantEpochGroup(tx, c)
		if err != nil {
			return false, err
		}
		if has {
			return true, nil
		}
	}
	return false, nil
}

// detachSourceBackLink removes group's source_id back-reference from the
// Source it names, if any; a group with no source cross-link is a no-op.
func detachSourceBackLink(tx *bolt.Tx, group *Entity) error {
	v, err := group.GetAttribute(tx, "source_id")
	if err != nil {
		return nil
	}
	root, err := entitiesRoot(tx)
	if err != nil {
		return err
	}
	sourceBucket := root.Bucket([]byte(v.StringVal))
	if sourceBucket == nil {
		return nil
	}
	kind := string(sourceBucket.Get([]byte(keyKind)))
	source := group.Container.cache().getOrCreate(group.Container, v.StringVal, kind)
	return source.removeCrossLink(tx, crossLinkEpochGroup, group.ID)
}
