package reports

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Protocol enumerates the transport protocol observed for a violating packet.
type Protocol uint8

// Protocol values.
const (
	ProtocolTCP   Protocol = 0
	ProtocolUDP   Protocol = 1
	ProtocolICMP  Protocol = 2
	ProtocolOther Protocol = 255
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMP:
		return "icmp"
	default:
		return "other"
	}
}

// Direction describes whether the violating packet was inbound or outbound.
type Direction uint8

// Direction values, per spec §4.6: 0 inbound, 1 outbound.
const (
	DirectionInbound  Direction = 0
	DirectionOutbound Direction = 1
)

func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

const processNameLen = 16

// ProcessInfo identifies the process responsible for the violating packet.
type ProcessInfo struct {
	PID  uint32
	Name string
}

const macLen = 6

func formatMAC(b [macLen]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

const ipAddrStorageLen = 16

// IPInfo carries the port pair and address of a violating packet. Addr is a
// genuine union in the C ABI: callers must check IsIPv4 before interpreting
// it as IPv4 or IPv6, matching the wire record on both sides (§9).
type IPInfo struct {
	SrcPort uint16
	DstPort uint16
	IsIPv4  bool
	Addr    [ipAddrStorageLen]byte
}

// IPv4 returns the source/dest addresses as netip.Addr, valid only when IsIPv4.
func (ip IPInfo) IPv4() (src, dst netip.Addr) {
	var s, d [4]byte
	copy(s[:], ip.Addr[0:4])
	copy(d[:], ip.Addr[4:8])
	return netip.AddrFrom4(s), netip.AddrFrom4(d)
}

// IPv6 returns the source address as netip.Addr, valid only when !IsIPv4.
// ipAddrStorageLen (16) fits a single IPv6 address, so IPv6 violation
// records carry the source address only; no destination address is stored.
func (ip IPInfo) IPv6() netip.Addr {
	var a [16]byte
	copy(a[:], ip.Addr[:])
	return netip.AddrFrom16(a)
}

const payloadSampleLen = 128

// PayloadBuffer carries a bounded sample of the violating packet's payload.
type PayloadBuffer struct {
	FullSize   uint32
	SampleSize uint32
	Sample     [payloadSampleLen]byte
}

// PacketViolationInfo is the packed record the loader writes for a packet
// violation. Field order and widths form the shared-memory wire contract.
type PacketViolationInfo struct {
	ViolatedRuleID         uint64
	ViolationType          uint32
	ViolationResponse      uint32
	Protocol               Protocol
	TimestampNs            uint64
	ConnectionEstablishing bool
	Direction              Direction
	Process                ProcessInfo
	SrcMAC                 [macLen]byte
	DstMAC                 [macLen]byte
	IPPresent              bool
	IP                     IPInfo
	Payload                PayloadBuffer
}

// PacketViolationInfoSize is sizeof(PacketViolationInfo) in the wire layout.
const PacketViolationInfoSize = 8 + 4 + 4 + 1 + 8 + 1 + 1 + 4 + processNameLen +
	macLen + macLen + 1 + 2 + 2 + 1 + ipAddrStorageLen + 4 + 4 + payloadSampleLen

// ErrPacketTooShort indicates buf is smaller than PacketViolationInfoSize.
var ErrPacketTooShort = errors.New("reports: buffer shorter than sizeof(PacketViolationInfo)")

// UnmarshalPacketViolationInfo parses buf as a PacketViolationInfo. It
// rejects buffers shorter than PacketViolationInfoSize; bytes past that size
// are ignored.
func UnmarshalPacketViolationInfo(buf []byte) (PacketViolationInfo, error) {
	var p PacketViolationInfo
	if len(buf) < PacketViolationInfoSize {
		return p, ErrPacketTooShort
	}

	off := 0
	p.ViolatedRuleID = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.ViolationType = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.ViolationResponse = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.Protocol = Protocol(buf[off])
	off++
	p.TimestampNs = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.ConnectionEstablishing = buf[off] != 0
	off++
	p.Direction = Direction(buf[off])
	off++

	p.Process.PID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	nameBuf := buf[off : off+processNameLen]
	off += processNameLen
	if nul := bytes.IndexByte(nameBuf, 0); nul >= 0 {
		p.Process.Name = string(nameBuf[:nul])
	} else {
		p.Process.Name = string(nameBuf)
	}

	copy(p.SrcMAC[:], buf[off:off+macLen])
	off += macLen
	copy(p.DstMAC[:], buf[off:off+macLen])
	off += macLen

	p.IPPresent = buf[off] != 0
	off++

	p.IP.SrcPort = binary.LittleEndian.Uint16(buf[off : off+2])
	off += 2
	p.IP.DstPort = binary.LittleEndian.Uint16(buf[off : off+2])
	off += 2
	p.IP.IsIPv4 = buf[off] != 0
	off++
	copy(p.IP.Addr[:], buf[off:off+ipAddrStorageLen])
	off += ipAddrStorageLen

	p.Payload.FullSize = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.Payload.SampleSize = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	copy(p.Payload.Sample[:], buf[off:off+payloadSampleLen])

	return p, nil
}

// ToJSON projects PacketViolationInfo into the wire JSON form: stringified
// enums, dotted IPv4, colon-hex IPv6/MAC, and base64 for the payload sample.
func (p PacketViolationInfo) ToJSON() map[string]any {
	out := map[string]any{
		"violated_rule_id":        p.ViolatedRuleID,
		"violation_type":          p.ViolationType,
		"violation_response":      p.ViolationResponse,
		"protocol":                p.Protocol.String(),
		"timestamp_ns":            p.TimestampNs,
		"connection_establishing": p.ConnectionEstablishing,
		"direction":               p.Direction.String(),
		"process": map[string]any{
			"pid":  p.Process.PID,
			"name": p.Process.Name,
		},
		"src_mac": formatMAC(p.SrcMAC),
		"dst_mac": formatMAC(p.DstMAC),
	}

	if p.IPPresent {
		ipOut := map[string]any{
			"src_port": p.IP.SrcPort,
			"dst_port": p.IP.DstPort,
			"is_ipv4":  p.IP.IsIPv4,
		}
		if p.IP.IsIPv4 {
			src, dst := p.IP.IPv4()
			ipOut["src_ip"] = src.String()
			ipOut["dst_ip"] = dst.String()
			out["ip.src_ip"] = src.String()
			out["ip.dst_ip"] = dst.String()
		} else {
			ipOut["src_ip"] = p.IP.IPv6().String()
		}
		out["ip"] = ipOut
	}

	sampleLen := p.Payload.SampleSize
	if int(sampleLen) > payloadSampleLen {
		sampleLen = payloadSampleLen
	}
	out["payload"] = map[string]any{
		"full_size":   p.Payload.FullSize,
		"sample_size": p.Payload.SampleSize,
		"sample_b64":  base64.StdEncoding.EncodeToString(p.Payload.Sample[:sampleLen]),
	}

	return out
}
