package persist

import (
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

func findChild(t *testing.T, tx *bolt.Tx, e *Entity, kind string) *Entity {
	t.Helper()
	children, err := e.Children(tx)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range children {
		if c.Kind == kind {
			return c
		}
	}
	t.Fatalf("no child of kind %q under entity %s", kind, e.ID)
	return nil
}

func TestAddEpochSerializesStimulusAndResponse(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.BeginEpochBlock("protocol.test", time.Now()); err != nil {
		t.Fatal(err)
	}

	rate := symphonycore.NewMeasurement(1000, "Hz")
	dev := symphonycore.DeviceRef{Name: "chan0", Manufacturer: "Acme"}
	source := symphonycore.NewOutputData(
		[]symphonycore.Measurement{
			symphonycore.NewMeasurement(1, "V"),
			symphonycore.NewMeasurement(2, "V"),
		},
		rate,
	)
	dur := 2 * time.Millisecond
	stim := symphonycore.NewRenderedStimulus("stim1", nil, "V", source, &dur, true)

	e := symphonycore.NewEpoch("protocol.test", nil)
	e.SetStimulus(dev, stim)
	resp := e.AddResponse(dev)
	t0 := time.Now()
	resp.Append(symphonycore.NewInputData(
		[]symphonycore.Measurement{
			symphonycore.NewMeasurement(3, "V"),
			symphonycore.NewMeasurement(4, "V"),
		},
		rate,
		t0,
	))

	entity, err := s.AddEpoch(e)
	if err != nil {
		t.Fatal(err)
	}

	err = s.container.View(func(tx *bolt.Tx) error {
		children, err := entity.Children(tx)
		if err != nil {
			return err
		}
		if len(children) != 2 {
			t.Fatalf("want exactly two children (stimulus, response), have %d", len(children))
		}

		stimEntity := findChild(t, tx, entity, kindStimulus)
		deviceID, err := stimEntity.GetAttribute(tx, "device_id")
		if err != nil {
			return err
		}
		device, err := s.container.entityByID(tx, deviceID.StringVal)
		if err != nil {
			return err
		}
		deviceName, err := device.GetAttribute(tx, "name")
		if err != nil {
			return err
		}
		if deviceName.StringVal != dev.Name {
			t.Errorf("want stimulus device_id to resolve to %q, have %q", dev.Name, deviceName.StringVal)
		}

		id, err := stimEntity.GetAttribute(tx, "stimulus_id")
		if err != nil {
			return err
		}
		if id.StringVal != "stim1" {
			t.Errorf("want stimulus_id stim1, have %v", id.StringVal)
		}
		units, err := stimEntity.GetAttribute(tx, "units")
		if err != nil {
			return err
		}
		if units.StringVal != "V" {
			t.Errorf("want units V, have %v", units.StringVal)
		}
		stimRate, err := stimEntity.GetMeasurementAttribute(tx, "sample_rate")
		if err != nil {
			return err
		}
		if !stimRate.Equal(rate) {
			t.Errorf("want sample_rate %v, have %v", rate, stimRate)
		}
		durAttr, err := stimEntity.GetAttribute(tx, "duration_ns")
		if err != nil {
			return err
		}
		if durAttr.IntVal != int64(dur) {
			t.Errorf("want duration_ns %d, have %d", int64(dur), durAttr.IntVal)
		}

		respEntity := findChild(t, tx, entity, kindResponse)
		respRate, err := respEntity.GetMeasurementAttribute(tx, "sample_rate")
		if err != nil {
			return err
		}
		if !respRate.Equal(rate) {
			t.Errorf("want response sample_rate %v, have %v", rate, respRate)
		}
		count, err := respEntity.GetAttribute(tx, "segment_count")
		if err != nil {
			return err
		}
		if count.IntVal != 1 {
			t.Errorf("want segment_count 1, have %d", count.IntVal)
		}

		bucket, err := respEntity.bucket(tx)
		if err != nil {
			return err
		}
		segments := bucket.Bucket([]byte(segmentsDataset))
		if segments == nil {
			t.Fatal("expected a segments dataset under the response entity")
		}
		if n := segments.Stats().KeyN; n != 1 {
			t.Errorf("want exactly 1 stored segment, have %d", n)
		}
		raw := segments.Get([]byte("000000000000"))
		if raw == nil {
			t.Fatal("expected segment key 000000000000 to be present")
		}
		wantLen := 16 + 4 + measurementRecordLen*2
		if len(raw) != wantLen {
			t.Errorf("want encoded segment length %d, have %d", wantLen, len(raw))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAddNoteAppendsToNotesDataset(t *testing.T) {
	s := newTestSession(t)
	source, err := s.AddSource("rig A")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AddNote(source, time.Now(), "first note"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddNote(source, time.Now(), "second note"); err != nil {
		t.Fatal(err)
	}

	err = s.container.View(func(tx *bolt.Tx) error {
		bucket, err := source.bucket(tx)
		if err != nil {
			return err
		}
		notes := bucket.Bucket([]byte(notesDataset))
		if notes == nil {
			t.Fatal("expected a notes dataset under the source entity")
		}
		if n := notes.Stats().KeyN; n != 2 {
			t.Errorf("want 2 stored notes, have %d", n)
		}
		raw := notes.Get([]byte("000000000001"))
		if raw == nil {
			t.Fatal("expected the second note to be keyed 000000000001")
		}
		_, text, err := DecodeNote(raw)
		if err != nil {
			return err
		}
		if text != "second note" {
			t.Errorf("want decoded text %q, have %q", "second note", text)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
