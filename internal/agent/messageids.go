package agent

// Application-level message identifiers carried as the first (or second)
// Text field of an encrypted Fields envelope.
const (
	messageIDHeartbeat     = "heartbeat"
	messageIDReqRuleUpdate = "req_rule_update"
	messageIDRulesResponse = "rules_response"
	messageIDReport        = "report"
)
