package reports_test

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/k9dev/scout-agent/internal/reports"
)

// buildPacketViolationBytes constructs a raw PacketViolationInfo buffer with
// an IPv4 source/dest pair and a given rule id, matching seed E5.
func buildPacketViolationBytes(t *testing.T, ruleID uint64, src, dst netip.Addr) []byte {
	t.Helper()

	buf := make([]byte, reports.PacketViolationInfoSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:off+8], ruleID)
	off += 8
	off += 4 // violation type
	off += 4 // violation response
	buf[off] = byte(reports.ProtocolTCP)
	off++
	off += 8 // timestamp
	off++    // connection establishing
	buf[off] = byte(reports.DirectionInbound)
	off++
	off += 4  // pid
	off += 16 // process name
	off += 6  // src mac
	off += 6  // dst mac
	buf[off] = 1 // ip present
	off++
	off += 2 // src port
	off += 2 // dst port
	buf[off] = 1 // is ipv4
	off++
	s4 := src.As4()
	d4 := dst.As4()
	copy(buf[off:off+4], s4[:])
	copy(buf[off+4:off+8], d4[:])

	return buf
}

func TestE5PacketViolationForwardsRuleAndIPs(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	buf := buildPacketViolationBytes(t, 7, src, dst)

	pkt, err := reports.UnmarshalPacketViolationInfo(buf)
	if err != nil {
		t.Fatalf("UnmarshalPacketViolationInfo() error: %v", err)
	}

	j := pkt.ToJSON()
	if j["violated_rule_id"] != uint64(7) {
		t.Errorf("violated_rule_id = %v, want 7", j["violated_rule_id"])
	}
	if j["ip.src_ip"] != "10.0.0.1" {
		t.Errorf("ip.src_ip = %v, want 10.0.0.1", j["ip.src_ip"])
	}
	if j["ip.dst_ip"] != "10.0.0.2" {
		t.Errorf("ip.dst_ip = %v, want 10.0.0.2", j["ip.dst_ip"])
	}
}

func TestUnmarshalPacketViolationTooShort(t *testing.T) {
	t.Parallel()

	_, err := reports.UnmarshalPacketViolationInfo(make([]byte, 4))
	if err == nil {
		t.Fatal("UnmarshalPacketViolationInfo() with a short buffer returned nil error")
	}
}

func TestReportRoundTripPacket(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("192.168.1.5")
	dst := netip.MustParseAddr("192.168.1.6")
	pktBuf := buildPacketViolationBytes(t, 42, src, dst)

	buf := make([]byte, reports.ReportSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(reports.ReportPacket))
	copy(buf[reports.ReportHeaderSize:], pktBuf)

	rep, err := reports.UnmarshalReport(buf)
	if err != nil {
		t.Fatalf("UnmarshalReport() error: %v", err)
	}
	if rep.Type != reports.ReportPacket {
		t.Fatalf("Type = %v, want ReportPacket", rep.Type)
	}

	j := rep.ToJSON()
	if j["type"] != "packet" {
		t.Errorf(`type = %v, want "packet"`, j["type"])
	}
	data, ok := j["data"].(map[string]any)
	if !ok {
		t.Fatalf("data is not a map: %T", j["data"])
	}
	if data["violated_rule_id"] != uint64(42) {
		t.Errorf("violated_rule_id = %v, want 42", data["violated_rule_id"])
	}
}

func TestReportTooShort(t *testing.T) {
	t.Parallel()

	_, err := reports.UnmarshalReport(make([]byte, reports.ReportSize-1))
	if err == nil {
		t.Fatal("UnmarshalReport() with a short buffer returned nil error")
	}
}

func TestNetworkInfoMerge(t *testing.T) {
	t.Parallel()

	buf := make([]byte, reports.NetworkInfoSize)
	binary.LittleEndian.PutUint32(buf[0:4], 2)

	off := 4
	copy(buf[off:off+3], []byte("foo"))
	binary.LittleEndian.PutUint32(buf[off+reports.MaxNetworkRecordNameLen:off+reports.MaxNetworkRecordNameLen+4], 3)
	off += reports.MaxNetworkRecordNameLen + 4

	copy(buf[off:off+3], []byte("bar"))
	binary.LittleEndian.PutUint32(buf[off+reports.MaxNetworkRecordNameLen:off+reports.MaxNetworkRecordNameLen+4], 5)

	ni, err := reports.UnmarshalNetworkInfo(buf)
	if err != nil {
		t.Fatalf("UnmarshalNetworkInfo() error: %v", err)
	}
	if len(ni.Records) != 2 {
		t.Fatalf("Records len = %d, want 2", len(ni.Records))
	}

	dst := map[string]int32{"foo": 1}
	ni.MergeInto(dst)
	if dst["foo"] != 4 {
		t.Errorf("dst[foo] = %d, want 4 (additive merge)", dst["foo"])
	}
	if dst["bar"] != 5 {
		t.Errorf("dst[bar] = %d, want 5", dst["bar"])
	}
}
