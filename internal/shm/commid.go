package shm

import "fmt"

// CommID identifies the purpose of a SharedComms message.
type CommID uint32

const (
	CommNone                 CommID = 0
	CommReqActiveRuleIds     CommID = 1
	CommReqRuleData          CommID = 2
	CommResRuleViolation     CommID = 3
	CommResActiveRuleIds     CommID = 4
	CommResRuleData          CommID = 5
	CommResNetworkInfoUpdate CommID = 6
)

var commIDNames = [...]string{
	"None",
	"ReqActiveRuleIds",
	"ReqRuleData",
	"ResRuleViolation",
	"ResActiveRuleIds",
	"ResRuleData",
	"ResNetworkInfoUpdate",
}

func (c CommID) String() string {
	if int(c) < len(commIDNames) {
		return commIDNames[c]
	}
	return fmt.Sprintf("Unknown(%d)", uint32(c))
}

// ParseCommID maps a raw request_id field to a CommID, collapsing anything
// out of range to CommNone.
func ParseCommID(v uint32) CommID {
	if int(v) < len(commIDNames) {
		return CommID(v)
	}
	return CommNone
}
