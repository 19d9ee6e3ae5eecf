package persist

import (
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

// metaBucket holds the container's own top-level attributes (the version
// stamp and the root Experiment's id), separate from the entity tree so a bucket scan of the
// root never has to special-case it.
const metaBucket = "__meta__"

const versionKey = "version"

// Container is the open hierarchical store one Experiment lives in. It
// owns the bbolt file handle; all entity mutation goes through Session,
// which wraps a Container with open-group/open-block state.
type Container struct {
	db      *bolt.DB
	path    string
	Version string

	cacheOnce sync.Once
	cacheVal  *entityCache
}

// entityByID looks up an existing entity by UUID, going through the
// identity cache. Session owns creation of new entities; Container only
// resolves references to ones that already exist.
func (c *Container) entityByID(tx *bolt.Tx, id string) (*Entity, error) {
	root, err := entitiesRoot(tx)
	if err != nil {
		return nil, err
	}
	b := root.Bucket([]byte(id))
	if b == nil {
		return nil, fmt.Errorf("persist: no entity %s", id)
	}
	kind := string(b.Get([]byte(keyKind)))
	return c.cache().getOrCreate(c, id, kind), nil
}

// Create makes a new container file at path, refusing to overwrite an
// existing one, and stamps it with version.
func Create(path string, version string) (*Container, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("persist: container already exists at %s", path)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	c := &Container{db: db, path: path, Version: version}
	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucket([]byte(metaBucket))
		if err != nil {
			return err
		}
		if err := meta.Put([]byte(versionKey), []byte(version)); err != nil {
			return err
		}
		_, err = tx.CreateBucket([]byte(entitiesBucket))
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return c, nil
}

// Open opens an existing container, validating its stamped version matches
// wantVersion exactly (no forward/backward compatibility shims, per the
// single-writer/no-migration scope of this store).
func Open(path string, wantVersion string) (*Container, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: false})
	if err != nil {
		return nil, err
	}
	c := &Container{db: db, path: path}
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if meta == nil {
			return fmt.Errorf("persist: %s is not a valid container (missing %s bucket)", path, metaBucket)
		}
		v := meta.Get([]byte(versionKey))
		if v == nil {
			return fmt.Errorf("persist: %s has no stamped version", path)
		}
		c.Version = string(v)
		if tx.Bucket([]byte(entitiesBucket)) == nil {
			return fmt.Errorf("persist: %s is missing its entity root", path)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &symphonycore.PersistenceError{Reason: "not a valid container", Cause: err}
	}
	if wantVersion != "" && c.Version != wantVersion {
		db.Close()
		return nil, &symphonycore.PersistenceError{Reason: fmt.Sprintf(
			"container version %q does not match expected %q", c.Version, wantVersion)}
	}
	return c, nil
}

// Close releases the underlying file handle.
func (c *Container) Close() error {
	return c.db.Close()
}

// Update runs fn inside a single read-write bbolt transaction. A returned
// error rolls the entire transaction back, leaving the on-disk file exactly
// as it was before Update was called.
func (c *Container) Update(fn func(tx *bolt.Tx) error) error {
	return c.db.Update(fn)
}

// View runs fn inside a single read-only bbolt transaction.
func (c *Container) View(fn func(tx *bolt.Tx) error) error {
	return c.db.View(fn)
}
