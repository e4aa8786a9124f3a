package reports

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// MaxNetworkRecords is the number of contact records a NetworkInfo update can carry.
const MaxNetworkRecords = 64

// MaxNetworkRecordNameLen is the fixed width of a contact record's name field.
const MaxNetworkRecordNameLen = 18

// networkRecordSize is the byte size of one contact record: Name + ContactCount (i32).
const networkRecordSize = MaxNetworkRecordNameLen + 4

// NetworkInfoSize is sizeof(NetworkInfo): a record count plus the fixed record table.
const NetworkInfoSize = 4 + MaxNetworkRecords*networkRecordSize

// ErrNetworkInfoTooShort indicates buf is smaller than NetworkInfoSize.
var ErrNetworkInfoTooShort = errors.New("reports: buffer shorter than sizeof(NetworkInfo)")

// NetworkRecord is one contacted-MAC entry in a NetworkInfo update.
type NetworkRecord struct {
	Name         string
	ContactCount int32
}

// NetworkInfo is the loader's periodic contacted-peer summary, reinterpreted
// from a fixed names table plus counts (§4.7 ResNetworkInfoUpdate).
type NetworkInfo struct {
	Records []NetworkRecord
}

// UnmarshalNetworkInfo parses buf as a NetworkInfo record.
func UnmarshalNetworkInfo(buf []byte) (NetworkInfo, error) {
	if len(buf) < NetworkInfoSize {
		return NetworkInfo{}, ErrNetworkInfoTooShort
	}

	count := binary.LittleEndian.Uint32(buf[0:4])
	if count > MaxNetworkRecords {
		count = MaxNetworkRecords
	}

	off := 4
	records := make([]NetworkRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		nameBuf := buf[off : off+MaxNetworkRecordNameLen]
		off += MaxNetworkRecordNameLen
		cnt := int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4

		name := string(nameBuf)
		if nul := bytes.IndexByte(nameBuf, 0); nul >= 0 {
			name = string(nameBuf[:nul])
		}

		records = append(records, NetworkRecord{Name: name, ContactCount: cnt})
	}

	return NetworkInfo{Records: records}, nil
}

// MergeInto adds each record's contact count into dst, keyed by name,
// additive on name collision per §4.7.
func (n NetworkInfo) MergeInto(dst map[string]int32) {
	for _, r := range n.Records {
		dst[r.Name] += r.ContactCount
	}
}
