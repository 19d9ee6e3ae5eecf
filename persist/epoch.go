package persist

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

const (
	notesDataset    = "__notes__"
	segmentsDataset = "__segments__"
)

// AddEpoch serializes epoch into the currently open EpochBlock: its
// protocol parameters and properties as attributes, its keywords as a
// single joined attribute, and, per device the epoch references, a
// Stimulus/Response/Background child cross-linked to that device's
// Experiment-level catalog entity (created or reused by AddEpoch itself,
// per the (name, manufacturer) uniqueness invariant). It is an error to
// call this with no EpochBlock open, or with a protocol_id that does not
// match the open block's. Epochs with ShouldBePersisted == false are still
// written — persistence policy is a caller decision made before calling
// AddEpoch, not something this layer re-derives.
func (s *Session) AddEpoch(epoch *symphonycore.Epoch) (*Entity, error) {
	s.mu.Lock()
	block := s.openBlock
	s.mu.Unlock()
	if block == nil {
		return nil, fmt.Errorf("persist: no epoch block is open")
	}

	var entity *Entity
	err := s.container.Update(func(tx *bolt.Tx) error {
		blockProtocol, err := block.GetAttribute(tx, "protocol_id")
		if err != nil {
			return err
		}
		if blockProtocol.StringVal != epoch.ProtocolID {
			return &symphonycore.PersistenceError{Reason: fmt.Sprintf(
				"epoch protocol_id %q does not match open block's protocol_id %q",
				epoch.ProtocolID, blockProtocol.StringVal)}
		}

		e, err := block.CreateChild(tx, kindEpoch)
		if err != nil {
			return err
		}
		if err := e.SetAttribute(tx, "should_wait_for_trigger", symphonycore.BoolValue(epoch.ShouldWaitForTrigger)); err != nil {
			return err
		}
		if err := e.SetAttribute(tx, "should_be_persisted", symphonycore.BoolValue(epoch.ShouldBePersisted)); err != nil {
			return err
		}
		if err := writeOrderedMap(tx, e, "param_", epoch.ProtocolParameters); err != nil {
			return err
		}
		if err := writeOrderedMap(tx, e, "prop_", epoch.Properties); err != nil {
			return err
		}
		keywords := epoch.Keywords()
		joined := ""
		for i, k := range keywords {
			if i > 0 {
				joined += ","
			}
			joined += k
		}
		if err := e.SetAttribute(tx, "keywords", symphonycore.StringValue(joined)); err != nil {
			return err
		}

		devices := epoch.Devices()
		sort.Slice(devices, func(i, j int) bool {
			if devices[i].Name != devices[j].Name {
				return devices[i].Name < devices[j].Name
			}
			return devices[i].Manufacturer < devices[j].Manufacturer
		})
		for _, device := range devices {
			deviceEntity, err := s.findOrCreateDevice(tx, device)
			if err != nil {
				return err
			}
			if stim, ok := epoch.Stimulus(device); ok {
				if err := addStimulus(tx, e, deviceEntity, stim); err != nil {
					return err
				}
			}
			if resp, ok := epoch.Response(device); ok {
				if err := addResponse(tx, e, deviceEntity, resp); err != nil {
					return err
				}
			}
			if bg, ok := epoch.Background(device); ok {
				if err := addBackground(tx, e, deviceEntity, bg); err != nil {
					return err
				}
			}
		}
		entity = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func writeOrderedMap(tx *bolt.Tx, e *Entity, prefix string, m *symphonycore.OrderedMap) error {
	if m == nil {
		return nil
	}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		if err := e.SetAttribute(tx, prefix+k, v); err != nil {
			return err
		}
	}
	return nil
}

func addStimulus(tx *bolt.Tx, parent *Entity, device *Entity, stim symphonycore.Stimulus) error {
	e, err := parent.CreateChild(tx, kindStimulus)
	if err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "device_id", symphonycore.StringValue(device.ID)); err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "stimulus_id", symphonycore.StringValue(stim.StimulusID())); err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "units", symphonycore.StringValue(stim.Units())); err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "sample_rate", symphonycore.MeasurementValue(stim.SampleRate())); err != nil {
		return err
	}
	if dur, finite := stim.Duration(); finite {
		if err := e.SetAttribute(tx, "duration_ns", symphonycore.IntValue(int64(dur))); err != nil {
			return err
		}
	}
	if err := writeOrderedMap(tx, e, "param_", stim.Parameters()); err != nil {
		return err
	}
	if snapshot, ok := stim.DataSnapshot(); ok {
		if err := writeSampleBlob(tx, e, snapshot); err != nil {
			return err
		}
	}
	return nil
}

func addBackground(tx *bolt.Tx, parent *Entity, device *Entity, bg *symphonycore.Background) error {
	e, err := parent.CreateChild(tx, kindBackground)
	if err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "device_id", symphonycore.StringValue(device.ID)); err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "value", symphonycore.MeasurementValue(bg.Value)); err != nil {
		return err
	}
	return e.SetAttribute(tx, "sample_rate", symphonycore.MeasurementValue(bg.SampleRate()))
}

func addResponse(tx *bolt.Tx, parent *Entity, device *Entity, resp *symphonycore.Response) error {
	e, err := parent.CreateChild(tx, kindResponse)
	if err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "device_id", symphonycore.StringValue(device.ID)); err != nil {
		return err
	}
	rate, err := resp.SampleRate()
	if err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "sample_rate", symphonycore.MeasurementValue(rate)); err != nil {
		return err
	}
	if err := e.SetAttribute(tx, "segment_count", symphonycore.IntValue(int64(resp.SegmentCount()))); err != nil {
		return err
	}
	bucket, err := e.bucket(tx)
	if err != nil {
		return err
	}
	segments, err := bucket.CreateBucketIfNotExists([]byte(segmentsDataset))
	if err != nil {
		return err
	}
	for i, seg := range resp.Segments() {
		key := fmt.Sprintf("%012d", i)
		if err := segments.Put([]byte(key), encodeSegment(seg)); err != nil {
			return err
		}
	}
	return nil
}

// encodeSegment lays out one response segment: a DATETIMEOFFSET input_time
// followed by a 4-byte sample count and that many MEASUREMENT records. The
// segment's sample rate lives on the owning Response entity rather than
// being repeated per segment.
func encodeSegment(seg symphonycore.InputData) []byte {
	data := seg.Data()
	buf := make([]byte, 0, 16+4+measurementRecordLen*len(data))
	buf = append(buf, EncodeDateTimeOffset(seg.InputTime)...)
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(data)))
	buf = append(buf, countBuf...)
	for _, m := range data {
		buf = append(buf, EncodeMeasurement(m.BaseQuantity(), m.BaseUnit)...)
	}
	return buf
}

// writeSampleBlob stores a flat snapshot of samples (stimulus data
// snapshots, which carry no independent timestamp) under a reserved key as
// a dataset of MEASUREMENT records.
func writeSampleBlob(tx *bolt.Tx, e *Entity, samples []symphonycore.Measurement) error {
	bucket, err := e.bucket(tx)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, 4+measurementRecordLen*len(samples))
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(samples)))
	buf = append(buf, countBuf...)
	for _, m := range samples {
		buf = append(buf, EncodeMeasurement(m.BaseQuantity(), m.BaseUnit)...)
	}
	return bucket.Put([]byte("__data__"), buf)
}

// AddNote appends a NOTE record (timestamp plus free text) to parent's
// notes dataset, in the same append-only-dataset style as addResponse's
// segments.
func (s *Session) AddNote(parent *Entity, t time.Time, text string) error {
	return s.container.Update(func(tx *bolt.Tx) error {
		bucket, err := parent.bucket(tx)
		if err != nil {
			return err
		}
		notes, err := bucket.CreateBucketIfNotExists([]byte(notesDataset))
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%012d", notes.Stats().KeyN)
		return notes.Put([]byte(key), EncodeNote(t, text))
	})
}
