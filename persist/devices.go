package persist

import (
	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

// findDevice searches the root Experiment's direct children for an existing
// Device entity matching ref's (name, manufacturer) pair. Device identity
// is scoped to the whole Experiment, not to any Source.
func (s *Session) findDevice(tx *bolt.Tx, ref symphonycore.DeviceRef) (*Entity, error) {
	children, err := s.root.Children(tx)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Kind != kindDevice {
			continue
		}
		name, err := c.GetAttribute(tx, "name")
		if err != nil {
			return nil, err
		}
		manufacturer, err := c.GetAttribute(tx, "manufacturer")
		if err != nil {
			return nil, err
		}
		if name.StringVal == ref.Name && manufacturer.StringVal == ref.Manufacturer {
			return c, nil
		}
	}
	return nil, nil
}

// findOrCreateDevice returns the Experiment-level Device entity matching
// ref, creating one under the root Experiment if none exists yet. Every
// Epoch (or explicit AddDevice call) that references the same device by its
// (name, manufacturer) natural key resolves to the identical entity.
func (s *Session) findOrCreateDevice(tx *bolt.Tx, ref symphonycore.DeviceRef) (*Entity, error) {
	existing, err := s.findDevice(tx, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	e, err := s.root.CreateChild(tx, kindDevice)
	if err != nil {
		return nil, err
	}
	if err := e.SetAttribute(tx, "name", symphonycore.StringValue(ref.Name)); err != nil {
		return nil, err
	}
	if err := e.SetAttribute(tx, "manufacturer", symphonycore.StringValue(ref.Manufacturer)); err != nil {
		return nil, err
	}
	return e, nil
}

// AddDevice registers (or reuses) a Device entity under the root Experiment,
// keyed by ref's (name, manufacturer) pair — the uniqueness invariant this
// store enforces for every device reference, including the ones AddEpoch
// resolves implicitly for stimulus/response/background cross-links.
func (s *Session) AddDevice(ref symphonycore.DeviceRef) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entity *Entity
	err := s.container.Update(func(tx *bolt.Tx) error {
		e, err := s.findOrCreateDevice(tx, ref)
		if err != nil {
			return err
		}
		entity = e
		return nil
	})
	return entity, err
}
