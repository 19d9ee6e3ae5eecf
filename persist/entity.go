package persist

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

// entitiesBucket is the single top-level bucket holding every entity's own
// bucket, keyed by UUID. Cross-links and parent/child relationships are
// represented as UUID references within an entity's bucket rather than by
// bbolt bucket nesting, so an entity can be reached in O(1) from its ID
// regardless of where it sits in the tree.
const entitiesBucket = "entities"

const (
	keyKind     = "__kind__"
	keyParent   = "__parent__"
	keyChildren = "__children__"
)

// Entity is a lightweight, cacheable handle onto one bucket within
// entitiesBucket. It carries no transaction state of its own; every method
// takes the *bolt.Tx of the caller's in-flight transaction rather than
// holding a duplicate copy of shared state.
type Entity struct {
	Container *Container
	ID        string
	Kind      string
}

// entityCache deduplicates *Entity wrappers per Container so that two
// lookups of the same UUID return the identical pointer, matching the
// identity-cache requirement on repeated entity access within a session.
type entityCache struct {
	mu    sync.Mutex
	byID  map[string]*Entity
}

func (c *Container) cache() *entityCache {
	c.cacheOnce.Do(func() { c.cacheVal = &entityCache{byID: make(map[string]*Entity)} })
	return c.cacheVal
}

func (ec *entityCache) getOrCreate(container *Container, id, kind string) *Entity {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if e, ok := ec.byID[id]; ok {
		return e
	}
	e := &Entity{Container: container, ID: id, Kind: kind}
	ec.byID[id] = e
	return e
}

func entitiesRoot(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(entitiesBucket))
	if b == nil {
		return nil, fmt.Errorf("persist: container is missing its entity root")
	}
	return b, nil
}

// bucket returns e's own bucket within the current transaction.
func (e *Entity) bucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	root, err := entitiesRoot(tx)
	if err != nil {
		return nil, err
	}
	b := root.Bucket([]byte(e.ID))
	if b == nil {
		return nil, fmt.Errorf("persist: entity %s (%s) has no bucket, it may have been rolled back", e.ID, e.Kind)
	}
	return b, nil
}

// CreateChild creates a new entity of the given kind as a child of e,
// appending it to e's ordered children list. On any failure partway
// through (bucket creation, attribute write), the caller's surrounding
// db.Update rolls the whole transaction back, leaving neither the child's
// bucket nor the parent's children-list entry behind — bbolt's
// whole-transaction rollback is what satisfies the "any failure removes the
// partially created group" requirement, with no manual cleanup needed here.
func (e *Entity) CreateChild(tx *bolt.Tx, kind string) (*Entity, error) {
	root, err := entitiesRoot(tx)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	childBucket, err := root.CreateBucket([]byte(id))
	if err != nil {
		return nil, err
	}
	if err := childBucket.Put([]byte(keyKind), []byte(kind)); err != nil {
		return nil, err
	}
	if err := childBucket.Put([]byte(keyParent), []byte(e.ID)); err != nil {
		return nil, err
	}

	parentBucket, err := e.bucket(tx)
	if err != nil {
		return nil, err
	}
	children, err := parentBucket.CreateBucketIfNotExists([]byte(keyChildren))
	if err != nil {
		return nil, err
	}
	nextIndex := 0
	if last, _ := children.Cursor().Last(); last != nil {
		fmt.Sscanf(string(last), "%d", &nextIndex)
		nextIndex++
	}
	order := fmt.Sprintf("%012d", nextIndex)
	if err := children.Put([]byte(order), []byte(id)); err != nil {
		return nil, err
	}

	return e.Container.cache().getOrCreate(e.Container, id, kind), nil
}

// Children returns e's children in the order they were created.
func (e *Entity) Children(tx *bolt.Tx) ([]*Entity, error) {
	bucket, err := e.bucket(tx)
	if err != nil {
		return nil, err
	}
	childrenBucket := bucket.Bucket([]byte(keyChildren))
	if childrenBucket == nil {
		return nil, nil
	}
	root, err := entitiesRoot(tx)
	if err != nil {
		return nil, err
	}
	var out []*Entity
	err = childrenBucket.ForEach(func(_, id []byte) error {
		childBucket := root.Bucket(id)
		if childBucket == nil {
			return fmt.Errorf("persist: dangling child reference %s under entity %s", id, e.ID)
		}
		kind := string(childBucket.Get([]byte(keyKind)))
		out = append(out, e.Container.cache().getOrCreate(e.Container, string(id), kind))
		return nil
	})
	return out, err
}

// Delete removes e's own bucket and its entry in its parent's children
// list. It does not recursively delete descendants; callers that need a
// subtree removed must walk Children themselves, a deliberate choice that
// keeps each call's blast radius explicit.
func (e *Entity) Delete(tx *bolt.Tx) error {
	bucket, err := e.bucket(tx)
	if err != nil {
		return err
	}
	parentID := string(bucket.Get([]byte(keyParent)))
	root, err := entitiesRoot(tx)
	if err != nil {
		return err
	}
	if parentID != "" {
		parentBucket := root.Bucket([]byte(parentID))
		if parentBucket != nil {
			if children := parentBucket.Bucket([]byte(keyChildren)); children != nil {
				var staleKey []byte
				children.ForEach(func(k, v []byte) error {
					if string(v) == e.ID {
						staleKey = append([]byte(nil), k...)
					}
					return nil
				})
				if staleKey != nil {
					children.Delete(staleKey)
				}
			}
		}
	}
	return root.DeleteBucket([]byte(e.ID))
}

// deleteRecursive removes e's bucket, its parent's children-list entry, and
// every descendant's bucket in turn. It walks owned children only; cross-
// link bookkeeping (detaching back-references held by other entities) is
// the caller's responsibility.
func (e *Entity) deleteRecursive(tx *bolt.Tx) error {
	children, err := e.Children(tx)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := c.deleteRecursive(tx); err != nil {
			return err
		}
	}
	return e.Delete(tx)
}

// crossLinkBucket returns the reserved bucket holding e's ordered list of
// cross-link target UUIDs under name, creating it on demand when create is
// true.
func (e *Entity) crossLinkBucket(tx *bolt.Tx, name string, create bool) (*bolt.Bucket, error) {
	bucket, err := e.bucket(tx)
	if err != nil {
		return nil, err
	}
	key := []byte("__link_" + name + "__")
	if create {
		return bucket.CreateBucketIfNotExists(key)
	}
	return bucket.Bucket(key), nil
}

// addCrossLink appends targetID to e's ordered cross-link list named name —
// e.g. a Source's back-references to the EpochGroups that cross-link it.
func (e *Entity) addCrossLink(tx *bolt.Tx, name, targetID string) error {
	links, err := e.crossLinkBucket(tx, name, true)
	if err != nil {
		return err
	}
	nextIndex := 0
	if last, _ := links.Cursor().Last(); last != nil {
		fmt.Sscanf(string(last), "%d", &nextIndex)
		nextIndex++
	}
	return links.Put([]byte(fmt.Sprintf("%012d", nextIndex)), []byte(targetID))
}

// removeCrossLink deletes the entry in e's name cross-link list pointing to
// targetID, if one exists. It is a no-op if e carries no such list or
// targetID is not in it.
func (e *Entity) removeCrossLink(tx *bolt.Tx, name, targetID string) error {
	links, err := e.crossLinkBucket(tx, name, false)
	if err != nil || links == nil {
		return err
	}
	var staleKey []byte
	links.ForEach(func(k, v []byte) error {
		if string(v) == targetID {
			staleKey = append([]byte(nil), k...)
		}
		return nil
	})
	if staleKey == nil {
		return nil
	}
	return links.Delete(staleKey)
}

// crossLinkIDs returns every target UUID in e's name cross-link list, or
// nil if e carries none.
func (e *Entity) crossLinkIDs(tx *bolt.Tx, name string) ([]string, error) {
	links, err := e.crossLinkBucket(tx, name, false)
	if err != nil || links == nil {
		return nil, err
	}
	var ids []string
	err = links.ForEach(func(_, v []byte) error {
		ids = append(ids, string(v))
		return nil
	})
	return ids, err
}

// SetAttribute writes a scalar or Measurement attribute directly on e's
// bucket.
func (e *Entity) SetAttribute(tx *bolt.Tx, key string, v symphonycore.Value) error {
	bucket, err := e.bucket(tx)
	if err != nil {
		return err
	}
	return SetAttribute(bucket, key, v)
}

// GetAttribute reads back a non-Measurement attribute from e's bucket.
func (e *Entity) GetAttribute(tx *bolt.Tx, key string) (symphonycore.Value, error) {
	bucket, err := e.bucket(tx)
	if err != nil {
		return symphonycore.Value{}, err
	}
	return GetAttribute(bucket, key)
}

// GetMeasurementAttribute reads back a Measurement attribute from e's
// bucket.
func (e *Entity) GetMeasurementAttribute(tx *bolt.Tx, key string) (symphonycore.Measurement, error) {
	bucket, err := e.bucket(tx)
	if err != nil {
		return symphonycore.Measurement{}, err
	}
	return GetMeasurementAttribute(bucket, key)
}
