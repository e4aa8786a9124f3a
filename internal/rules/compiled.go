package rules

import "encoding/binary"

// CompiledRule is the fixed-size, C-ABI record consumed by the loader via a
// pointer-cast over shared memory. Every field is little-endian and the
// layout is hand-specified (not derived from real C struct alignment, since
// there is no external non-Go consumer in this exercise) to keep
// sizeof(CompiledRule) constant and portable.
//
// Wire layout (736 bytes total):
//
//	ID              u64                 offset 0
//	Order           u64                 offset 8
//	EventTypes      [5]u32              offset 16   (20 bytes)
//	Conditions      [8]compiledCondition offset 36  (8*84 = 672 bytes)
//	ConditionCount  u32                 offset 708
//	Responses       [5]u32              offset 712  (20 bytes)
//	ResponseCount   u32                 offset 732
//
// Each compiledCondition is 84 bytes: Key(40) Op(4) Value(40).
// Each compiledConditionValue is 40 bytes: RawLength(4) Raw[32] KeyEnum(4).
type CompiledRule struct {
	ID             uint64
	Order          uint64
	EventTypes     [MaxEventTypes]EventType
	Conditions     [MaxConditions]CompiledCondition
	ConditionCount uint32
	Responses      [MaxResponses]ResponseType
	ResponseCount  uint32
}

// CompiledConditionValue is the fixed-size wire form of a ConditionValue.
type CompiledConditionValue struct {
	RawLength uint32
	Raw       [MaxConditionValueBytes]byte
	KeyEnum   ConditionKey
}

// CompiledCondition is the fixed-size wire form of a Condition.
type CompiledCondition struct {
	Key   CompiledConditionValue
	Op    Operator
	Value CompiledConditionValue
}

// compiledConditionValueSize is the byte size of CompiledConditionValue:
// 4 (RawLength) + 32 (Raw) + 4 (KeyEnum).
const compiledConditionValueSize = 4 + MaxConditionValueBytes + 4

// compiledConditionSize is the byte size of CompiledCondition:
// key value (40) + op (4) + value value (40).
const compiledConditionSize = compiledConditionValueSize + 4 + compiledConditionValueSize

// CompiledRuleSize is sizeof(CompiledRule) in the wire layout: 8+8+20+8*84+4+20+4.
const CompiledRuleSize = 8 + 8 + (4 * MaxEventTypes) + (MaxConditions * compiledConditionSize) + 4 + (4 * MaxResponses) + 4

func compileConditionValue(v ConditionValue) CompiledConditionValue {
	out := CompiledConditionValue{KeyEnum: v.Key}
	n := len(v.Raw)
	if n > MaxConditionValueBytes {
		n = MaxConditionValueBytes
	}
	copy(out.Raw[:], v.Raw[:n])
	out.RawLength = uint32(n)
	return out
}

// Compile converts an expanded Rule into its fixed-size CompiledRule,
// truncating event types, conditions, and responses to their maximum slot
// counts (§8 Testable Property 5). Unused slots are left zero-valued.
func Compile(r Rule) CompiledRule {
	cr := CompiledRule{ID: r.ID, Order: r.Order}

	n := len(r.EventTypes)
	if n > MaxEventTypes {
		n = MaxEventTypes
	}
	copy(cr.EventTypes[:], r.EventTypes[:n])

	n = len(r.Conditions)
	if n > MaxConditions {
		n = MaxConditions
	}
	for i := 0; i < n; i++ {
		c := r.Conditions[i]
		cr.Conditions[i] = CompiledCondition{
			Key:   compileConditionValue(c.Key),
			Op:    c.Op,
			Value: compileConditionValue(c.Value),
		}
	}
	cr.ConditionCount = uint32(n)

	n = len(r.Responses)
	if n > MaxResponses {
		n = MaxResponses
	}
	copy(cr.Responses[:], r.Responses[:n])
	cr.ResponseCount = uint32(n)

	return cr
}

func marshalConditionValue(buf []byte, v CompiledConditionValue) {
	binary.LittleEndian.PutUint32(buf[0:4], v.RawLength)
	copy(buf[4:4+MaxConditionValueBytes], v.Raw[:])
	binary.LittleEndian.PutUint32(buf[4+MaxConditionValueBytes:compiledConditionValueSize], uint32(v.KeyEnum))
}

func unmarshalConditionValue(buf []byte) CompiledConditionValue {
	var v CompiledConditionValue
	v.RawLength = binary.LittleEndian.Uint32(buf[0:4])
	copy(v.Raw[:], buf[4:4+MaxConditionValueBytes])
	v.KeyEnum = ConditionKey(binary.LittleEndian.Uint32(buf[4+MaxConditionValueBytes : compiledConditionValueSize]))
	return v
}

// MarshalBinary serializes a CompiledRule into its exact CompiledRuleSize
// little-endian byte layout, for byte-for-byte transmission over shared
// memory (§4.7 ReqRuleData response).
func (cr CompiledRule) MarshalBinary() []byte {
	buf := make([]byte, CompiledRuleSize)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:off+8], cr.ID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], cr.Order)
	off += 8

	for i := 0; i < MaxEventTypes; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(cr.EventTypes[i]))
		off += 4
	}

	for i := 0; i < MaxConditions; i++ {
		c := cr.Conditions[i]
		marshalConditionValue(buf[off:off+compiledConditionValueSize], c.Key)
		off += compiledConditionValueSize
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(c.Op))
		off += 4
		marshalConditionValue(buf[off:off+compiledConditionValueSize], c.Value)
		off += compiledConditionValueSize
	}

	binary.LittleEndian.PutUint32(buf[off:off+4], cr.ConditionCount)
	off += 4

	for i := 0; i < MaxResponses; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(cr.Responses[i]))
		off += 4
	}

	binary.LittleEndian.PutUint32(buf[off:off+4], cr.ResponseCount)
	off += 4

	return buf
}

// UnmarshalCompiledRule parses a CompiledRuleSize-byte buffer back into a
// CompiledRule. Returns false if buf is shorter than CompiledRuleSize.
func UnmarshalCompiledRule(buf []byte) (CompiledRule, bool) {
	var cr CompiledRule
	if len(buf) < CompiledRuleSize {
		return cr, false
	}

	off := 0
	cr.ID = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	cr.Order = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	for i := 0; i < MaxEventTypes; i++ {
		cr.EventTypes[i] = EventType(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}

	for i := 0; i < MaxConditions; i++ {
		key := unmarshalConditionValue(buf[off : off+compiledConditionValueSize])
		off += compiledConditionValueSize
		op := Operator(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		val := unmarshalConditionValue(buf[off : off+compiledConditionValueSize])
		off += compiledConditionValueSize
		cr.Conditions[i] = CompiledCondition{Key: key, Op: op, Value: val}
	}

	cr.ConditionCount = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4

	for i := 0; i < MaxResponses; i++ {
		cr.Responses[i] = ResponseType(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}

	cr.ResponseCount = binary.LittleEndian.Uint32(buf[off : off+4])

	return cr, true
}
