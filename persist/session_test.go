package persist

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.sym")
	c, err := Create(path, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	s, err := BeginExperiment(c, "test experiment", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBeginExperimentRefusesDoubleRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.sym")
	c, err := Create(path, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := BeginExperiment(c, "first", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := BeginExperiment(c, "second", time.Now()); err == nil {
		t.Error("BeginExperiment should refuse a container that already has a root")
	}
}

func TestOpenSessionResumesExistingRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.sym")
	c, err := Create(path, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	s, err := BeginExperiment(c, "first", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	rootID := s.Root().ID
	c.Close()

	reopened, err := Open(path, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	resumed, err := OpenSession(reopened)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Root().ID != rootID {
		t.Errorf("want root %s, have %s", rootID, resumed.Root().ID)
	}
}

func TestEpochGroupAndBlockDiscipline(t *testing.T) {
	s := newTestSession(t)
	source, err := s.AddSource("rig A")
	if err != nil {
		t.Fatal(err)
	}

	group, err := s.PushEpochGroup("group 1", source)
	if err != nil {
		t.Fatal(err)
	}
	if s.OpenBlock() != nil {
		t.Error("no block should be open yet")
	}

	if _, err := s.BeginEpochBlock("protocol.a", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BeginEpochBlock("protocol.b", time.Now()); err == nil {
		t.Error("beginning a second block while one is open should error")
	}
	if _, err := s.PushEpochGroup("nested", source); err == nil {
		t.Error("pushing a group while a block is open should error")
	}
	if err := s.PopEpochGroup(); err == nil {
		t.Error("popping a group while a block is open should error")
	}

	if err := s.EndEpochBlock(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.EndEpochBlock(time.Now()); err == nil {
		t.Error("ending an already-closed block should error")
	}

	if err := s.PopEpochGroup(); err != nil {
		t.Fatal(err)
	}
	if err := s.PopEpochGroup(); err == nil {
		t.Error("popping with no group open should error")
	}
	_ = group
}

func TestCloseRefusesWithOpenGroupOrBlock(t *testing.T) {
	s := newTestSession(t)
	source, err := s.AddSource("rig A")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushEpochGroup("group", source); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(time.Now()); err == nil {
		t.Error("Close should refuse while an epoch group is still open")
	}
	if err := s.PopEpochGroup(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.BeginEpochBlock("protocol.a", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(time.Now()); err == nil {
		t.Error("Close should refuse while an epoch block is still open")
	}
	if err := s.EndEpochBlock(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(time.Now()); err != nil {
		t.Errorf("Close should succeed once every group and block is closed: %v", err)
	}
}

func TestAddEpochWritesDeviceChildrenInDeterministicOrder(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.BeginEpochBlock("protocol.test", time.Now()); err != nil {
		t.Fatal(err)
	}

	e := symphonycore.NewEpoch("protocol.test", nil)
	rate := symphonycore.NewMeasurement(1000, "Hz")
	devZ := symphonycore.DeviceRef{Name: "z-device", Manufacturer: "Acme"}
	devA := symphonycore.DeviceRef{Name: "a-device", Manufacturer: "Acme"}
	e.SetBackground(devZ, symphonycore.NewMeasurement(1, "V"), rate)
	e.SetBackground(devA, symphonycore.NewMeasurement(2, "V"), rate)

	entity, err := s.AddEpoch(e)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	err = s.container.View(func(tx *bolt.Tx) error {
		children, err := entity.Children(tx)
		if err != nil {
			return err
		}
		for _, child := range children {
			deviceID, err := child.GetAttribute(tx, "device_id")
			if err != nil {
				return err
			}
			device, err := s.container.entityByID(tx, deviceID.StringVal)
			if err != nil {
				return err
			}
			name, err := device.GetAttribute(tx, "name")
			if err != nil {
				return err
			}
			names = append(names, name.StringVal)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a-device" || names[1] != "z-device" {
		t.Errorf("want background children cross-linked to devices in sorted order [a-device z-device], have %v", names)
	}
}

func TestAddEpochReusesExistingDevice(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.BeginEpochBlock("protocol.test", time.Now()); err != nil {
		t.Fatal(err)
	}

	rate := symphonycore.NewMeasurement(1000, "Hz")
	dev := symphonycore.DeviceRef{Name: "chan0", Manufacturer: "Acme"}

	e1 := symphonycore.NewEpoch("protocol.test", nil)
	e1.SetBackground(dev, symphonycore.NewMeasurement(1, "V"), rate)
	entity1, err := s.AddEpoch(e1)
	if err != nil {
		t.Fatal(err)
	}

	e2 := symphonycore.NewEpoch("protocol.test", nil)
	e2.SetBackground(dev, symphonycore.NewMeasurement(2, "V"), rate)
	entity2, err := s.AddEpoch(e2)
	if err != nil {
		t.Fatal(err)
	}

	var id1, id2 string
	err = s.container.View(func(tx *bolt.Tx) error {
		c1, err := entity1.Children(tx)
		if err != nil {
			return err
		}
		v1, err := c1[0].GetAttribute(tx, "device_id")
		if err != nil {
			return err
		}
		id1 = v1.StringVal

		c2, err := entity2.Children(tx)
		if err != nil {
			return err
		}
		v2, err := c2[0].GetAttribute(tx, "device_id")
		if err != nil {
			return err
		}
		id2 = v2.StringVal
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("want both epochs to cross-link the same device entity, have %s and %s", id1, id2)
	}

	// The Experiment itself must own exactly one Device entity, not two.
	var deviceCount int
	err = s.container.View(func(tx *bolt.Tx) error {
		children, err := s.root.Children(tx)
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Kind == kindDevice {
				deviceCount++
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if deviceCount != 1 {
		t.Errorf("want exactly 1 device entity under the experiment, have %d", deviceCount)
	}
}

func TestAddDeviceReusesMatchingDevice(t *testing.T) {
	s := newTestSession(t)
	ref := symphonycore.DeviceRef{Name: "chan0", Manufacturer: "Acme"}
	first, err := s.AddDevice(ref)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.AddDevice(ref)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("want AddDevice to reuse the existing device, got two distinct ids %s and %s", first.ID, second.ID)
	}
}

func TestAddEpochRejectsProtocolIDMismatch(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.BeginEpochBlock("protocol.a", time.Now()); err != nil {
		t.Fatal(err)
	}
	e := symphonycore.NewEpoch("protocol.b", nil)
	if _, err := s.AddEpoch(e); err == nil {
		t.Error("AddEpoch should reject an epoch whose protocol_id does not match the open block's")
	} else if _, ok := err.(*symphonycore.PersistenceError); !ok {
		t.Errorf("want a *symphonycore.PersistenceError, have %T: %v", err, err)
	}
}

func TestDeleteProtectsExperimentAndOpenEntities(t *testing.T) {
	s := newTestSession(t)
	if err := s.Delete(s.root); err == nil {
		t.Error("Delete should refuse to remove the root experiment")
	}

	source, err := s.AddSource("rig A")
	if err != nil {
		t.Fatal(err)
	}
	group, err := s.PushEpochGroup("group 1", source)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(group); err == nil {
		t.Error("Delete should refuse to remove an open epoch group")
	}

	block, err := s.BeginEpochBlock("protocol.a", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(block); err == nil {
		t.Error("Delete should refuse to remove the current open epoch block")
	}
	if err := s.EndEpochBlock(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.PopEpochGroup(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteRefusesSourceWithAssociatedEpochGroup(t *testing.T) {
	s := newTestSession(t)
	source, err := s.AddSource("rig A")
	if err != nil {
		t.Fatal(err)
	}
	group, err := s.PushEpochGroup("group 1", source)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(source); err == nil {
		t.Error("Delete should refuse a source with an associated epoch group")
	}
	if err := s.PopEpochGroup(); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(group); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(source); err != nil {
		t.Errorf("Delete should succeed once the group cross-link is gone: %v", err)
	}
}

func TestDeleteEpochGroupIsRecursiveAndDetachesSource(t *testing.T) {
	s := newTestSession(t)
	source, err := s.AddSource("rig A")
	if err != nil {
		t.Fatal(err)
	}
	outer, err := s.PushEpochGroup("outer", source)
	if err != nil {
		t.Fatal(err)
	}
	inner, err := s.PushEpochGroup("inner", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = inner
	if err := s.PopEpochGroup(); err != nil {
		t.Fatal(err)
	}
	if err := s.PopEpochGroup(); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(outer); err != nil {
		t.Fatal(err)
	}

	err = s.container.View(func(tx *bolt.Tx) error {
		ids, err := source.crossLinkIDs(tx, crossLinkEpochGroup)
		if err != nil {
			return err
		}
		if len(ids) != 0 {
			t.Errorf("want the source's back-cross-link removed, still has %v", ids)
		}
		if _, err := inner.bucket(tx); err == nil {
			t.Error("want the nested epoch group deleted along with its parent")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(source); err != nil {
		t.Errorf("want the source deletable once its epoch group is gone: %v", err)
	}
}
