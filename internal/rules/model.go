package rules

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxConditionValueBytes is the maximum length of a raw-literal condition
// value after base64 decoding.
const MaxConditionValueBytes = 32

// MaxConditions is the number of condition slots in a CompiledRule.
const MaxConditions = 8

// MaxResponses is the number of response slots in a CompiledRule.
const MaxResponses = 5

// MaxEventTypes is the number of event-type slots in a CompiledRule.
const MaxEventTypes = 5

// Sentinel errors for malformed rules input.
var (
	// ErrInvalidRulesJSON indicates the top-level rules document is not a
	// well-formed JSON array of raw rules.
	ErrInvalidRulesJSON = errors.New("rules: invalid rules JSON")
)

// RawConditionSide mirrors the JSON shape of one side of a condition:
// either a named data key or a base64-encoded raw literal.
type RawConditionSide struct {
	IsKey bool   `json:"is_key"`
	Value string `json:"value"`
}

// RawCondition mirrors the JSON shape of a single rule condition.
type RawCondition struct {
	Key      RawConditionSide `json:"key"`
	Operator string           `json:"operator"`
	Value    RawConditionSide `json:"value"`
}

// RawRule mirrors the on-disk/wire JSON schema for a single rule, before
// expansion into Rule.
type RawRule struct {
	ID         uint64         `json:"id"`
	Order      uint64         `json:"order"`
	Name       string         `json:"name"`
	Enabled    bool           `json:"enabled"`
	Priority   uint8          `json:"priority"`
	EventTypes []string       `json:"event_types"`
	Conditions []RawCondition `json:"conditions"`
	Responses  []string       `json:"responses"`
}

// ConditionValue is either a key reference into a loader-exposed attribute
// or a raw literal of at most MaxConditionValueBytes bytes after decoding.
type ConditionValue struct {
	Key ConditionKey
	Raw []byte
}

// expandConditionSide converts a RawConditionSide into a ConditionValue.
// Base64 decode failure yields a zero-length literal, matching the
// compilation semantics of §4.5.
func expandConditionSide(side RawConditionSide) ConditionValue {
	if side.IsKey {
		return ConditionValue{Key: ParseConditionKey(side.Value)}
	}

	decoded, err := base64.StdEncoding.DecodeString(side.Value)
	if err != nil {
		return ConditionValue{Key: ConditionNone}
	}
	if len(decoded) > MaxConditionValueBytes {
		decoded = decoded[:MaxConditionValueBytes]
	}
	return ConditionValue{Key: ConditionNone, Raw: decoded}
}

// Condition is the expanded, in-memory form of a RawCondition.
type Condition struct {
	Key   ConditionValue
	Op    Operator
	Value ConditionValue
}

// Rule is the expanded, in-memory form of a RawRule.
type Rule struct {
	ID         uint64
	Order      uint64
	Name       string
	Enabled    bool
	Priority   uint8
	EventTypes []EventType
	Conditions []Condition
	Responses  []ResponseType
}

// expandRule converts a RawRule into a Rule, applying the enumeration
// mappings but not yet truncating to the compiled fixed sizes — truncation
// happens at Compile time so the in-memory Rule always reflects the full
// input.
func expandRule(raw RawRule) Rule {
	r := Rule{
		ID:       raw.ID,
		Order:    raw.Order,
		Name:     raw.Name,
		Enabled:  raw.Enabled,
		Priority: raw.Priority,
	}

	r.EventTypes = make([]EventType, 0, len(raw.EventTypes))
	for _, s := range raw.EventTypes {
		r.EventTypes = append(r.EventTypes, ParseEventType(s))
	}

	r.Conditions = make([]Condition, 0, len(raw.Conditions))
	for _, rc := range raw.Conditions {
		r.Conditions = append(r.Conditions, Condition{
			Key:   expandConditionSide(rc.Key),
			Op:    ParseOperator(rc.Operator),
			Value: expandConditionSide(rc.Value),
		})
	}

	r.Responses = make([]ResponseType, 0, len(raw.Responses))
	for _, s := range raw.Responses {
		r.Responses = append(r.Responses, ParseResponseType(s))
	}

	return r
}

// LoadRulesFromJSON parses a rules JSON document (an array of RawRule
// objects) into expanded Rule values.
func LoadRulesFromJSON(data []byte) ([]Rule, error) {
	var raw []RawRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRulesJSON, err)
	}

	rules := make([]Rule, 0, len(raw))
	for _, rr := range raw {
		rules = append(rules, expandRule(rr))
	}
	return rules, nil
}
