package persist

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"

	bolt "go.etcd.io/bbolt"

	symphonycore "github.com/Symphony-DAS/symphony-core-sub000"
)

// attribute kind tags, stored as the first byte of a scalar attribute's
// value blob.
const (
	attrInt byte = iota
	attrFloat
	attrBool
	attrString
)

// SetAttribute writes v under key in bucket. A Measurement is split across
// three keys (key, key_quantity, key_units) so the quantity and unit stay
// independently queryable without decoding a compound blob, matching the
// container's attribute-table field layout. Array-valued attributes and any
// other kind this store has no native encoding for fall back to their
// String() representation, logged once as a warning rather than silently
// dropped.
func SetAttribute(bucket *bolt.Bucket, key string, v symphonycore.Value) error {
	switch v.Kind {
	case symphonycore.KindMeasurement:
		m := v.Measurement
		if err := bucket.Put([]byte(key), []byte{attrString, 'm'}); err != nil {
			return err
		}
		qbuf := make([]byte, 12)
		binary.LittleEndian.PutUint64(qbuf[0:8], math.Float64bits(m.Quantity))
		binary.LittleEndian.PutUint32(qbuf[8:12], uint32(m.Exponent))
		if err := bucket.Put([]byte(key+"_quantity"), qbuf); err != nil {
			return err
		}
		return bucket.Put([]byte(key+"_units"), []byte(m.BaseUnit))
	case symphonycore.KindInt:
		buf := make([]byte, 9)
		buf[0] = attrInt
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.IntVal))
		return bucket.Put([]byte(key), buf)
	case symphonycore.KindFloat:
		buf := make([]byte, 9)
		buf[0] = attrFloat
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.FloatVal))
		return bucket.Put([]byte(key), buf)
	case symphonycore.KindBool:
		b := byte(0)
		if v.BoolVal {
			b = 1
		}
		return bucket.Put([]byte(key), []byte{attrBool, b})
	case symphonycore.KindString:
		return bucket.Put([]byte(key), append([]byte{attrString}, []byte(v.StringVal)...))
	default:
		log.Printf("persist: attribute %q has no native encoding for kind %v, storing its string form", key, v.Kind)
		return bucket.Put([]byte(key), append([]byte{attrString}, []byte(v.String())...))
	}
}

// GetAttribute reads back a scalar attribute written by SetAttribute. It
// does not reconstruct Measurement attributes; callers that expect a
// Measurement should use GetMeasurementAttribute instead.
func GetAttribute(bucket *bolt.Bucket, key string) (symphonycore.Value, error) {
	raw := bucket.Get([]byte(key))
	if raw == nil {
		return symphonycore.Value{}, fmt.Errorf("persist: no attribute %q", key)
	}
	if len(raw) == 0 {
		return symphonycore.Value{}, fmt.Errorf("persist: attribute %q is empty", key)
	}
	switch raw[0] {
	case attrInt:
		return symphonycore.IntValue(int64(binary.LittleEndian.Uint64(raw[1:]))), nil
	case attrFloat:
		return symphonycore.FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(raw[1:]))), nil
	case attrBool:
		return symphonycore.BoolValue(raw[1] == 1), nil
	case attrString:
		return symphonycore.StringValue(string(raw[1:])), nil
	default:
		return symphonycore.Value{}, fmt.Errorf("persist: attribute %q has unknown kind tag %d", key, raw[0])
	}
}

// GetMeasurementAttribute reassembles the Measurement stored by
// SetAttribute under key/key_quantity/key_units.
func GetMeasurementAttribute(bucket *bolt.Bucket, key string) (symphonycore.Measurement, error) {
	q := bucket.Get([]byte(key + "_quantity"))
	u := bucket.Get([]byte(key + "_units"))
	if q == nil || u == nil {
		return symphonycore.Measurement{}, fmt.Errorf("persist: no measurement attribute %q", key)
	}
	if len(q) != 12 {
		return symphonycore.Measurement{}, fmt.Errorf("persist: measurement attribute %q quantity field malformed", key)
	}
	quantity := math.Float64frombits(binary.LittleEndian.Uint64(q[0:8]))
	exponent := int32(binary.LittleEndian.Uint32(q[8:12]))
	return symphonycore.Measurement{Quantity: quantity, Exponent: exponent, BaseUnit: string(u)}, nil
}
