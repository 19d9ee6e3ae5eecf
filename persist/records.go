// Package persist implements the hierarchical binary container the DAQ
// process loop's completed epochs are written into: an embedded,
// single-writer store (go.etcd.io/bbolt) holding the
// Experiment/Source/EpochGroup/EpochBlock/Epoch entity tree as one flat
// bucket per entity, keyed by UUID and linked by UUID references, with three
// fixed compound record layouts (DATETIMEOFFSET, NOTE, MEASUREMENT) encoded
// by hand to match the bit-exact on-disk format.
package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// ticksPerSecond matches symphonycore.TicksPerSecond: 100ns ticks, the same
// granularity as .NET's DateTimeOffset/TimeSpan tick used by the original
// on-disk format.
const ticksPerSecond = 10_000_000

// epochUTC is the tick epoch: 0001-01-01T00:00:00Z, .NET's DateTime.MinValue,
// so that a DATETIMEOFFSET record's tick count matches what the original
// persistence format actually stores.
var epochUTC = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// dotNetTicks converts t to UTC ticks since epochUTC.
func dotNetTicks(t time.Time) int64 {
	u := t.UTC()
	return (u.Unix()-epochUTC.Unix())*ticksPerSecond + int64(u.Nanosecond())/int64(time.Second/ticksPerSecond)
}

// dotNetOffsetHours returns t's UTC offset in (possibly fractional) hours,
// the companion field every DATETIMEOFFSET record carries alongside its
// tick count.
func dotNetOffsetHours(t time.Time) float64 {
	_, offsetSeconds := t.Zone()
	return float64(offsetSeconds) / 3600
}

// EncodeDateTimeOffset lays out a DATETIMEOFFSET record: an 8-byte
// little-endian tick count since epochUTC followed by an 8-byte
// little-endian offsetHours, per the container's field table.
func EncodeDateTimeOffset(t time.Time) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, dotNetTicks(t))
	binary.Write(buf, binary.LittleEndian, dotNetOffsetHours(t))
	return buf.Bytes()
}

// DecodeDateTimeOffset reverses EncodeDateTimeOffset.
func DecodeDateTimeOffset(b []byte) (time.Time, error) {
	if len(b) != 16 {
		return time.Time{}, fmt.Errorf("persist: DATETIMEOFFSET record must be 16 bytes, got %d", len(b))
	}
	ticks := int64(binary.LittleEndian.Uint64(b[0:8]))
	offsetHours := math.Float64frombits(binary.LittleEndian.Uint64(b[8:16]))
	instant := time.Unix(ticks/ticksPerSecond+epochUTC.Unix(), (ticks%ticksPerSecond)*int64(time.Second/ticksPerSecond)).UTC()
	loc := time.FixedZone("", int(offsetHours*3600))
	return instant.In(loc), nil
}

// EncodeNote lays out a NOTE record: a 16-byte DATETIMEOFFSET timestamp
// followed by a 4-byte length prefix and the UTF-8 text.
func EncodeNote(t time.Time, text string) []byte {
	buf := new(bytes.Buffer)
	buf.Write(EncodeDateTimeOffset(t))
	binary.Write(buf, binary.LittleEndian, uint32(len(text)))
	buf.WriteString(text)
	return buf.Bytes()
}

// DecodeNote reverses EncodeNote.
func DecodeNote(b []byte) (time.Time, string, error) {
	if len(b) < 20 {
		return time.Time{}, "", fmt.Errorf("persist: NOTE record too short, got %d bytes", len(b))
	}
	t, err := DecodeDateTimeOffset(b[:16])
	if err != nil {
		return time.Time{}, "", err
	}
	n := binary.LittleEndian.Uint32(b[16:20])
	if len(b) < 20+int(n) {
		return time.Time{}, "", fmt.Errorf("persist: NOTE record text length %d exceeds record size", n)
	}
	return t, string(b[20 : 20+n]), nil
}

// measurementUnitLen is the MEASUREMENT record's fixed unit field width, per
// the container's field table (unit: fixed-length string(10)).
const measurementUnitLen = 10

// measurementRecordLen is one encoded MEASUREMENT record's total size: an
// 8-byte float64 quantity followed by the fixed unit field.
const measurementRecordLen = 8 + measurementUnitLen

// EncodeMeasurement lays out a MEASUREMENT record: an 8-byte float64
// base-unit quantity followed by a fixed 10-byte, NUL-padded unit string.
// Units longer than 10 bytes are truncated; this is the bit-exact dataset
// record backing response/stimulus sample arrays, distinct from the
// exponent-carrying attribute encoding SetAttribute uses for scalar
// Measurement attributes.
func EncodeMeasurement(quantity float64, unit string) []byte {
	buf := make([]byte, measurementRecordLen)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(quantity))
	u := []byte(unit)
	if len(u) > measurementUnitLen {
		u = u[:measurementUnitLen]
	}
	copy(buf[8:8+len(u)], u)
	return buf
}

// DecodeMeasurement reverses EncodeMeasurement.
func DecodeMeasurement(b []byte) (quantity float64, unit string, err error) {
	if len(b) != measurementRecordLen {
		return 0, "", fmt.Errorf("persist: MEASUREMENT record must be %d bytes, got %d", measurementRecordLen, len(b))
	}
	quantity = math.Float64frombits(binary.LittleEndian.Uint64(b[0:8]))
	unit = strings.TrimRight(string(b[8:8+measurementUnitLen]), "\x00")
	return quantity, unit, nil
}
