// Package reports decodes loader-produced violation reports and assembles
// the Heartbeat telemetry document sent to Spearhead.
//
// Binary layouts in this package are little-endian, matching the
// shared-memory C-ABI records in internal/shm and internal/rules.
package reports

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ReportType discriminates the union payload carried by a Report.
type ReportType uint32

// ReportType values.
const (
	ReportNone   ReportType = 0
	ReportPacket ReportType = 1
	ReportFile   ReportType = 2
)

func (t ReportType) String() string {
	switch t {
	case ReportNone:
		return "none"
	case ReportPacket:
		return "packet"
	case ReportFile:
		return "file"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(t))
	}
}

// ReportHeaderSize is the byte size of a Report's type discriminant.
const ReportHeaderSize = 4

// ReportSize is sizeof(Report): the type discriminant plus the largest
// union member, PacketViolationInfo. File reports are reserved and carry no
// payload in this version.
const ReportSize = ReportHeaderSize + PacketViolationInfoSize

// Sentinel errors for malformed report bytes.
var (
	// ErrReportTooShort indicates the buffer is smaller than ReportSize, the
	// minimum size needed to safely reinterpret the bytes. Per the design
	// notes, a received size must be checked against the expected struct
	// size rather than admitting a short, garbage-trailing buffer.
	ErrReportTooShort = errors.New("reports: buffer shorter than sizeof(Report)")
)

// Report is the decoded form of the loader's violation report union.
type Report struct {
	Type   ReportType
	Packet PacketViolationInfo
}

// UnmarshalReport parses buf as a Report. It requires len(buf) >= ReportSize
// even when Type is not Packet, since the wire record is fixed-size.
func UnmarshalReport(buf []byte) (Report, error) {
	if len(buf) < ReportSize {
		return Report{}, ErrReportTooShort
	}

	var r Report
	r.Type = ReportType(binary.LittleEndian.Uint32(buf[0:4]))

	if r.Type == ReportPacket {
		pkt, err := UnmarshalPacketViolationInfo(buf[ReportHeaderSize:ReportSize])
		if err != nil {
			return Report{}, fmt.Errorf("unmarshal packet violation info: %w", err)
		}
		r.Packet = pkt
	}

	return r, nil
}

// ToJSON projects a Report into the wire JSON schema:
// {"type": "packet"|"file"|"none", "data": {...}}.
func (r Report) ToJSON() map[string]any {
	out := map[string]any{"type": r.Type.String()}
	switch r.Type {
	case ReportPacket:
		out["data"] = r.Packet.ToJSON()
	default:
		out["data"] = nil
	}
	return out
}
