// Package trace defines the wire format of the raw trace stream and the
// consumer-side parsing of handed-off buffer regions.
//
// Records are fixed-size and written back to back with no delimiters; a
// handed-off region always contains a whole number of records and is parsed
// strictly sequentially. Consumers must not retain slices into a region
// after returning the buffer to the producer.
package trace

import (
	"encoding/binary"
	"fmt"
)

// RecordKind discriminates trace record types. Only kernel records exist
// today; the field keeps the layout extensible without changing RecordSize.
type RecordKind uint32

const (
	KindInvalid RecordKind = iota
	KindKernel
)

// RecordSize is the fixed wire size of every trace record.
const RecordSize = 56

// Record is one raw trace record. Kernel names are interned by the producer
// and referenced by NameID so that records stay fixed-size; the id resolves
// against the producer's name table.
type Record struct {
	Kind     RecordKind
	NameID   uint32
	KernelID uint64
	Device   uint64
	Context  uint64
	Width    uint32
	StartNS  uint64
	EndNS    uint64
}

// Encode writes the record into dst, which must hold RecordSize bytes.
func (r Record) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], uint32(r.Kind))
	le.PutUint32(dst[4:], r.NameID)
	le.PutUint64(dst[8:], r.KernelID)
	le.PutUint64(dst[16:], r.Device)
	le.PutUint64(dst[24:], r.Context)
	le.PutUint32(dst[32:], r.Width)
	le.PutUint32(dst[36:], 0)
	le.PutUint64(dst[40:], r.StartNS)
	le.PutUint64(dst[48:], r.EndNS)
}

// Decode reads one record from src, which must hold RecordSize bytes.
func Decode(src []byte) Record {
	le := binary.LittleEndian
	return Record{
		Kind:     RecordKind(le.Uint32(src[0:])),
		NameID:   le.Uint32(src[4:]),
		KernelID: le.Uint64(src[8:]),
		Device:   le.Uint64(src[16:]),
		Context:  le.Uint64(src[24:]),
		Width:    le.Uint32(src[32:]),
		StartNS:  le.Uint64(src[40:]),
		EndNS:    le.Uint64(src[48:]),
	}
}

// Parse decodes every record in a handed-off region. The region length must
// be an exact multiple of RecordSize; anything else means the producer broke
// the whole-record hand-off guarantee.
func Parse(region []byte) ([]Record, error) {
	if len(region)%RecordSize != 0 {
		return nil, fmt.Errorf("region of %d bytes is not a whole number of %d-byte records",
			len(region), RecordSize)
	}
	records := make([]Record, 0, len(region)/RecordSize)
	for off := 0; off < len(region); off += RecordSize {
		records = append(records, Decode(region[off:off+RecordSize]))
	}
	return records, nil
}
