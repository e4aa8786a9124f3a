// Package rules implements the JSON rule schema, its in-memory expansion,
// and compilation into the fixed-size CompiledRule consumed by the loader
// over shared memory.
//
// Every multi-byte integer in this package's binary layouts is
// little-endian, matching the shared-memory C-ABI records in internal/shm
// and internal/reports — never the big-endian wire used by internal/fields.
package rules

import "fmt"

const unknownFmt = "Unknown(%d)"

// EventType enumerates the kinds of observation a rule can match against.
type EventType uint32

// EventType values. Event_None is both the zero value and the fallback for
// unrecognized JSON strings.
const (
	EventNone EventType = iota
	EventNetworkSendPacket
	EventNetworkRecvPacket
	EventProcessExec
	EventProcessExit
	EventProcessFork
	EventFileOpen
	EventFileWrite
	EventFileDelete
	EventFileRename
	EventMemoryMap
	EventMemoryProtect
	EventUserLogin
	EventUserLogout
	EventUserPrivilegeChange
)

var eventTypeNames = [...]string{
	"Event_None",
	"Network_SendPacket",
	"Network_RecvPacket",
	"Process_Exec",
	"Process_Exit",
	"Process_Fork",
	"File_Open",
	"File_Write",
	"File_Delete",
	"File_Rename",
	"Memory_Map",
	"Memory_Protect",
	"User_Login",
	"User_Logout",
	"User_PrivilegeChange",
}

func (e EventType) String() string {
	if int(e) < len(eventTypeNames) {
		return eventTypeNames[e]
	}
	return fmt.Sprintf(unknownFmt, uint32(e))
}

var eventTypeFromString = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for i, name := range eventTypeNames {
		m[name] = EventType(i)
	}
	return m
}()

// ParseEventType maps a JSON event_type string to its enumeration value.
// Unknown strings collapse to EventNone.
func ParseEventType(s string) EventType {
	if et, ok := eventTypeFromString[s]; ok {
		return et
	}
	return EventNone
}

// ConditionKey enumerates the loader-exposed attributes a condition side may
// reference (packet/process/memory/file/user namespaces), plus the
// ConditionNone sentinel used for raw-literal condition sides.
type ConditionKey uint32

// ConditionKey values.
const (
	ConditionNone ConditionKey = iota
	ConditionPacketSrcIP
	ConditionPacketDstIP
	ConditionPacketSrcPort
	ConditionPacketDstPort
	ConditionPacketProtocol
	ConditionPacketDirection
	ConditionProcessPID
	ConditionProcessName
	ConditionProcessPPID
	ConditionMemoryAddress
	ConditionMemorySize
	ConditionFilePath
	ConditionFileName
	ConditionFileMode
	ConditionUserName
	ConditionUserID
	ConditionUserGroup
	ConditionPacketSrcMAC
	ConditionPacketDstMAC
	ConditionPacketPayload
	ConditionFileHash
)

var conditionKeyNames = [...]string{
	"Condition_None",
	"packet.src_ip",
	"packet.dst_ip",
	"packet.src_port",
	"packet.dst_port",
	"packet.protocol",
	"packet.direction",
	"process.pid",
	"process.name",
	"process.ppid",
	"memory.address",
	"memory.size",
	"file.path",
	"file.name",
	"file.mode",
	"user.name",
	"user.id",
	"user.group",
	"packet.src_mac",
	"packet.dst_mac",
	"packet.payload",
	"file.hash",
}

func (k ConditionKey) String() string {
	if int(k) < len(conditionKeyNames) {
		return conditionKeyNames[k]
	}
	return fmt.Sprintf(unknownFmt, uint32(k))
}

var conditionKeyFromString = func() map[string]ConditionKey {
	m := make(map[string]ConditionKey, len(conditionKeyNames))
	for i, name := range conditionKeyNames {
		m[name] = ConditionKey(i)
	}
	return m
}()

// ParseConditionKey maps a data-key string (e.g. "packet.src_ip") to its
// enumeration value. Unknown strings collapse to ConditionNone, matching
// the raw-literal sentinel.
func ParseConditionKey(s string) ConditionKey {
	if k, ok := conditionKeyFromString[s]; ok {
		return k
	}
	return ConditionNone
}

// Operator enumerates condition comparison operators.
type Operator uint32

// Operator values.
const (
	OpEquals Operator = iota
	OpNotEquals
	OpLessThan
	OpGreaterThan
	OpLessOrEqual
	OpGreaterOrEqual
	OpInside
	OpInPayloadAt
)

var operatorNames = [...]string{
	"Equals",
	"NotEquals",
	"LessThan",
	"GreaterThan",
	"LessOrEqual",
	"GreaterOrEqual",
	"Inside",
	"InPayloadAt",
}

func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf(unknownFmt, uint32(o))
}

var operatorFromString = func() map[string]Operator {
	m := make(map[string]Operator, len(operatorNames))
	for i, name := range operatorNames {
		m[name] = Operator(i)
	}
	return m
}()

// ParseOperator maps an operator string to its enumeration value.
// Unknown strings default to OpEquals.
func ParseOperator(s string) Operator {
	if op, ok := operatorFromString[s]; ok {
		return op
	}
	return OpEquals
}

// ResponseType enumerates the loader-side response actions a rule can trigger.
type ResponseType uint32

// ResponseType values.
const (
	ResponseNone ResponseType = iota
	ResponseLog
	ResponseAlert
	ResponseBlock
	ResponseDrop
	ResponseKillProcess
	ResponseQuarantineFile
)

var responseTypeNames = [...]string{
	"Response_None",
	"Response_Log",
	"Response_Alert",
	"Response_Block",
	"Response_Drop",
	"Response_KillProcess",
	"Response_QuarantineFile",
}

func (r ResponseType) String() string {
	if int(r) < len(responseTypeNames) {
		return responseTypeNames[r]
	}
	return fmt.Sprintf(unknownFmt, uint32(r))
}

var responseTypeFromString = func() map[string]ResponseType {
	m := make(map[string]ResponseType, len(responseTypeNames))
	for i, name := range responseTypeNames {
		m[name] = ResponseType(i)
	}
	return m
}()

// ParseResponseType maps a response string to its enumeration value.
// Unknown strings collapse to ResponseNone.
func ParseResponseType(s string) ResponseType {
	if r, ok := responseTypeFromString[s]; ok {
		return r
	}
	return ResponseNone
}
