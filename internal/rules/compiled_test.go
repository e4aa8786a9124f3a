package rules_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/k9dev/scout-agent/internal/rules"
)

func TestCompiledRuleSizeIsConstant(t *testing.T) {
	t.Parallel()

	if rules.CompiledRuleSize != 736 {
		t.Fatalf("CompiledRuleSize = %d, want 736", rules.CompiledRuleSize)
	}

	cr := rules.CompiledRule{}
	buf := cr.MarshalBinary()
	if len(buf) != rules.CompiledRuleSize {
		t.Fatalf("MarshalBinary() len = %d, want %d", len(buf), rules.CompiledRuleSize)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()

	r := rules.Rule{
		ID:         7,
		Order:      3,
		EventTypes: []rules.EventType{rules.EventNetworkSendPacket, rules.EventFileWrite},
		Conditions: []rules.Condition{
			{
				Key:   rules.ConditionValue{Key: rules.ConditionPacketSrcIP},
				Op:    rules.OpEquals,
				Value: rules.ConditionValue{Raw: []byte("10.0.0.1")},
			},
		},
		Responses: []rules.ResponseType{rules.ResponseAlert, rules.ResponseBlock},
	}

	cr := rules.Compile(r)
	buf := cr.MarshalBinary()

	got, ok := rules.UnmarshalCompiledRule(buf)
	if !ok {
		t.Fatal("UnmarshalCompiledRule() returned ok=false")
	}

	if got.ID != 7 || got.Order != 3 {
		t.Errorf("ID/Order = %d/%d, want 7/3", got.ID, got.Order)
	}
	if got.ConditionCount != 1 {
		t.Errorf("ConditionCount = %d, want 1", got.ConditionCount)
	}
	if got.ResponseCount != 2 {
		t.Errorf("ResponseCount = %d, want 2", got.ResponseCount)
	}
	if got.Conditions[0].Key.KeyEnum != rules.ConditionPacketSrcIP {
		t.Errorf("Conditions[0].Key.KeyEnum = %v, want ConditionPacketSrcIP", got.Conditions[0].Key.KeyEnum)
	}
	if string(got.Conditions[0].Value.Raw[:got.Conditions[0].Value.RawLength]) != "10.0.0.1" {
		t.Errorf("Conditions[0].Value raw = %q, want %q", got.Conditions[0].Value.Raw[:got.Conditions[0].Value.RawLength], "10.0.0.1")
	}
}

func TestUnusedEventTypeSlotsZeroToEventNone(t *testing.T) {
	t.Parallel()

	if rules.EventType(0) != rules.EventNone {
		t.Fatalf("EventType zero value = %v, want EventNone", rules.EventType(0))
	}

	r := rules.Rule{ID: 1, EventTypes: []rules.EventType{rules.EventFileWrite}}
	cr := rules.Compile(r)

	for i := 1; i < len(cr.EventTypes); i++ {
		if cr.EventTypes[i] != rules.EventNone {
			t.Errorf("EventTypes[%d] = %v, want EventNone for an unused slot", i, cr.EventTypes[i])
		}
	}
}

func TestUnmarshalCompiledRuleTooShort(t *testing.T) {
	t.Parallel()

	_, ok := rules.UnmarshalCompiledRule(make([]byte, 10))
	if ok {
		t.Fatal("UnmarshalCompiledRule() with a short buffer returned ok=true")
	}
}

// TestE4RuleCompileTruncation exercises seed E4: 10 conditions, 7 responses
// compile down to 8 and 5 respectively, with trailing slots zeroed.
func TestE4RuleCompileTruncation(t *testing.T) {
	t.Parallel()

	raw := make([]rules.RawCondition, 10)
	for i := range raw {
		raw[i] = rules.RawCondition{
			Key:      rules.RawConditionSide{IsKey: true, Value: "packet.src_ip"},
			Operator: "Equals",
			Value:    rules.RawConditionSide{IsKey: false, Value: base64.StdEncoding.EncodeToString([]byte("x"))},
		}
	}
	responses := make([]string, 7)
	for i := range responses {
		responses[i] = "Response_Alert"
	}

	doc, err := json.Marshal([]rules.RawRule{{
		ID:         1,
		Conditions: raw,
		Responses:  responses,
	}})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	loaded, err := rules.LoadRulesFromJSON(doc)
	if err != nil {
		t.Fatalf("LoadRulesFromJSON() error: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadRulesFromJSON() returned %d rules, want 1", len(loaded))
	}

	cr := rules.Compile(loaded[0])
	if cr.ConditionCount != rules.MaxConditions {
		t.Errorf("ConditionCount = %d, want %d", cr.ConditionCount, rules.MaxConditions)
	}
	if cr.ResponseCount != rules.MaxResponses {
		t.Errorf("ResponseCount = %d, want %d", cr.ResponseCount, rules.MaxResponses)
	}

	for i := rules.MaxResponses; i < len(cr.Responses); i++ {
		if cr.Responses[i] != rules.ResponseNone {
			t.Errorf("Responses[%d] = %v, want ResponseNone (zeroed)", i, cr.Responses[i])
		}
	}
}

func TestLoadRulesFromJSONInvalid(t *testing.T) {
	t.Parallel()

	_, err := rules.LoadRulesFromJSON([]byte("{not valid json"))
	if err == nil {
		t.Fatal("LoadRulesFromJSON() with malformed JSON returned nil error")
	}
}

func TestBase64DecodeFailureYieldsZeroLengthLiteral(t *testing.T) {
	t.Parallel()

	doc := `[{"id":1,"conditions":[{"key":{"is_key":false,"value":"!!!not-base64"},"operator":"Equals","value":{"is_key":true,"value":"packet.dst_ip"}}]}]`

	loaded, err := rules.LoadRulesFromJSON([]byte(doc))
	if err != nil {
		t.Fatalf("LoadRulesFromJSON() error: %v", err)
	}

	cond := loaded[0].Conditions[0]
	if cond.Key.Key != rules.ConditionNone {
		t.Errorf("Key.Key = %v, want ConditionNone", cond.Key.Key)
	}
	if len(cond.Key.Raw) != 0 {
		t.Errorf("Key.Raw = %x, want empty", cond.Key.Raw)
	}
}

func TestParseEventTypeUnknownDefaultsToNone(t *testing.T) {
	t.Parallel()

	if got := rules.ParseEventType("not_a_real_event"); got != rules.EventNone {
		t.Errorf("ParseEventType(unknown) = %v, want EventNone", got)
	}
}

func TestParseOperatorUnknownDefaultsToEquals(t *testing.T) {
	t.Parallel()

	if got := rules.ParseOperator("???"); got != rules.OpEquals {
		t.Errorf("ParseOperator(unknown) = %v, want OpEquals", got)
	}
}
