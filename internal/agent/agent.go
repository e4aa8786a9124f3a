// Package agent implements the control loop that mediates between the
// eBPF loader (over shared memory) and the Spearhead command server (over
// an encrypted TCP channel): State, Agent and its per-tick dispatch.
package agent

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/k9dev/scout-agent/internal/config"
	"github.com/k9dev/scout-agent/internal/fields"
	"github.com/k9dev/scout-agent/internal/logsink"
	"github.com/k9dev/scout-agent/internal/metrics"
	"github.com/k9dev/scout-agent/internal/reports"
	"github.com/k9dev/scout-agent/internal/rules"
	"github.com/k9dev/scout-agent/internal/shm"
	"github.com/k9dev/scout-agent/internal/transport"
)

// Agent owns the connection to Spearhead, the loader shared-memory
// channel, the current rule vector and the in-flight heartbeat snapshot.
// There is no concurrent access to this state: a single tick loop drives
// everything.
type Agent struct {
	cfg     config.Config
	sink    logsink.Sink
	metrics *metrics.Collector
	clock   func() time.Time

	conn secureChannel
	shm  shmChannel

	state State
	rules []rules.Rule

	heartbeat reports.Heartbeat

	lastHeartbeat   time.Time
	lastRuleRequest time.Time
	startupBias     time.Time
}

// New constructs an Agent wired to a real Spearhead connection. The shm
// channel is supplied separately via SetShmChannel once the loader
// handshake has completed, since it requires the loader subprocess to
// already be running.
func New(cfg config.Config, sink logsink.Sink, collector *metrics.Collector, clock func() time.Time) *Agent {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	return &Agent{
		cfg:             cfg,
		sink:            sink,
		metrics:         collector,
		clock:           clock,
		conn:            transport.New(),
		state:           StateNotConnected,
		heartbeat:       *reports.NewHeartbeat(),
		lastHeartbeat:   now,
		lastRuleRequest: now,
		startupBias:     now,
	}
}

// SetShmChannel installs the loader shared-memory channel. Tick is a no-op
// for loader servicing (step 6) until this is called.
func (a *Agent) SetShmChannel(c *shm.Channel) {
	a.shm = c
}

// SetRules atomically replaces the rule vector, e.g. on load from disk or
// a rules_response message from the server.
func (a *Agent) SetRules(rs []rules.Rule) {
	a.rules = rs
}

// State reports the current connection state.
func (a *Agent) State() State {
	return a.state
}

// Run drives Tick on cfg.Intervals.Tick cadence until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Intervals.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.sink.Log(logsink.SeverityError, "tick failed", "error", err.Error())
			}
		}
	}
}

// Tick runs one iteration of the control loop described in the agent
// control-flow section: reconnect check, periodic heartbeat/rule-request
// sends, loader servicing, server servicing.
func (a *Agent) Tick(ctx context.Context) error {
	now := a.clock()

	if a.state == StateConnected && !a.conn.IsConnected() {
		a.sink.Log(logsink.SeverityWarn, "connection to Spearhead lost")
		a.conn.Reset()
		a.state = StateNotConnected
		a.metrics.SetConnected(false)
		return nil
	}

	if a.state == StateNotConnected {
		a.connect(ctx)
		return nil
	}

	if err := a.heartbeat.SystemMetrics.Update(now); err != nil {
		a.sink.Log(logsink.SeverityWarn, "system metrics update failed", "error", err.Error())
	}

	if now.Sub(a.lastHeartbeat) >= a.cfg.Intervals.Heartbeat {
		a.sendHeartbeat()
	}

	if now.Sub(a.lastRuleRequest) >= a.cfg.Intervals.RuleRequest {
		a.sendRuleRequest()
	}

	a.serviceLoader()
	a.serviceServer()

	return nil
}

func (a *Agent) connect(_ context.Context) {
	a.sink.Log(logsink.SeverityInfo, "connecting to Spearhead", "addr", a.cfg.Server.Addr)
	a.metrics.HandshakeAttempts.Inc()

	if err := a.conn.Connect(a.cfg.Server.Addr); err != nil {
		a.sink.Log(logsink.SeverityError, "connect failed", "error", err.Error())
		a.metrics.RecordHandshakeFailure("connect")
		return
	}

	if err := transport.ClientHandshake(a.conn, a.clock); err != nil {
		a.sink.Log(logsink.SeverityError, "handshake failed", "error", err.Error())
		a.metrics.RecordHandshakeFailure("handshake")
		a.conn.Reset()
		return
	}

	a.sink.Log(logsink.SeverityInfo, "connected to Spearhead")
	a.state = StateConnected
	a.metrics.SetConnected(true)
}

func (a *Agent) sendHeartbeat() {
	a.heartbeat.RefreshIdentity()
	payload, err := a.heartbeat.ToJSON()
	if err != nil {
		a.sink.Log(logsink.SeverityError, "marshal heartbeat failed", "error", err.Error())
		return
	}

	fs := fields.Fields{
		fields.Text(a.heartbeat.MAC),
		fields.Text(messageIDHeartbeat),
		fields.Text(string(payload)),
	}
	if err := a.conn.SendFields(fs); err != nil {
		a.sink.Log(logsink.SeverityError, "send heartbeat failed", "error", err.Error())
		return
	}

	a.metrics.HeartbeatsSent.Inc()
	a.heartbeat.Reset()
	a.lastHeartbeat = a.clock()
}

func (a *Agent) sendRuleRequest() {
	fs := fields.Fields{
		fields.Text(a.heartbeat.MAC),
		fields.Text(messageIDReqRuleUpdate),
	}
	if err := a.conn.SendFields(fs); err != nil {
		a.sink.Log(logsink.SeverityError, "send rule request failed", "error", err.Error())
		return
	}
	a.metrics.RuleRequestsSent.Inc()
	a.lastRuleRequest = a.clock()
}

// serviceLoader drains at most one pending loader request per tick, per
// the non-blocking read contract.
func (a *Agent) serviceLoader() {
	if a.shm == nil {
		return
	}

	snap, err := a.shm.Read(nil)
	if err != nil {
		a.sink.Log(logsink.SeverityWarn, "shm read failed", "error", err.Error())
		return
	}
	if snap == nil {
		return
	}
	a.metrics.ShmReadsTotal.Inc()

	switch snap.RequestID {
	case shm.CommReqActiveRuleIds:
		a.handleActiveRuleIDsRequest(snap)
	case shm.CommReqRuleData:
		a.handleRuleDataRequest(snap)
	case shm.CommResRuleViolation:
		a.handleViolationReport(snap)
	case shm.CommResNetworkInfoUpdate:
		a.handleNetworkInfoUpdate(snap)
	default:
		a.sink.Log(logsink.SeverityWarn, "unknown loader request id", "id", snap.RequestID.String())
	}
}

func (a *Agent) handleActiveRuleIDsRequest(snap *shm.Snapshot) {
	var ids []uint64
	for _, r := range a.rules {
		if r.Enabled {
			ids = append(ids, r.ID)
		}
	}

	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], id)
	}

	convID := snap.ConversationID
	if err := a.shm.Write(shm.CommResActiveRuleIds, buf, &convID); err != nil {
		a.sink.Log(logsink.SeverityError, "write active rule ids failed", "error", err.Error())
		return
	}
	a.metrics.ShmWritesTotal.Inc()
}

func (a *Agent) handleRuleDataRequest(snap *shm.Snapshot) {
	payload := snap.Payload()
	convID := snap.ConversationID

	if len(payload) < 8 {
		a.sink.Log(logsink.SeverityWarn, "rule data request payload too short")
		if err := a.shm.Write(shm.CommResRuleData, nil, &convID); err != nil {
			a.sink.Log(logsink.SeverityError, "write empty rule data failed", "error", err.Error())
		}
		return
	}
	requestedID := binary.LittleEndian.Uint64(payload[:8])

	for _, r := range a.rules {
		if r.ID == requestedID {
			compiled := rules.Compile(r)
			if err := a.shm.Write(shm.CommResRuleData, compiled.MarshalBinary(), &convID); err != nil {
				a.sink.Log(logsink.SeverityError, "write rule data failed", "error", err.Error())
			} else {
				a.metrics.ShmWritesTotal.Inc()
			}
			return
		}
	}

	a.sink.Log(logsink.SeverityWarn, "requested rule id not found", "rule_id", requestedID)
	if err := a.shm.Write(shm.CommResRuleData, nil, &convID); err != nil {
		a.sink.Log(logsink.SeverityError, "write empty rule data failed", "error", err.Error())
	}
}

func (a *Agent) handleViolationReport(snap *shm.Snapshot) {
	payload := snap.Payload()
	if len(payload) < reports.ReportSize {
		a.sink.Log(logsink.SeverityWarn, "violation report payload too small")
		return
	}

	report, err := reports.UnmarshalReport(payload)
	if err != nil {
		a.sink.Log(logsink.SeverityWarn, "unmarshal violation report failed", "error", err.Error())
		return
	}

	if report.Type != reports.ReportPacket {
		a.sink.Log(logsink.SeverityWarn, "unknown report type from loader", "type", report.Type.String())
		return
	}

	body, err := json.Marshal(report.ToJSON())
	if err != nil {
		a.sink.Log(logsink.SeverityError, "marshal violation report failed", "error", err.Error())
		return
	}

	fs := fields.Fields{fields.Text(messageIDReport), fields.Text(string(body))}
	if err := a.conn.SendFields(fs); err != nil {
		a.sink.Log(logsink.SeverityError, "send violation report failed", "error", err.Error())
		return
	}
	a.metrics.ViolationReportsSent.Inc()
}

func (a *Agent) handleNetworkInfoUpdate(snap *shm.Snapshot) {
	info, err := reports.UnmarshalNetworkInfo(snap.Payload())
	if err != nil {
		a.sink.Log(logsink.SeverityWarn, "unmarshal network info failed", "error", err.Error())
		return
	}
	a.heartbeat.MergeContacts(info)
}

// serviceServer drains at most one pending message from Spearhead per
// tick, per the non-blocking recv contract.
func (a *Agent) serviceServer() {
	fs, err := a.conn.RecvFieldsNonBlocking()
	if err != nil {
		a.sink.Log(logsink.SeverityWarn, "recv from Spearhead failed", "error", err.Error())
		a.conn.Reset()
		a.state = StateNotConnected
		a.metrics.SetConnected(false)
		return
	}
	if fs == nil {
		return
	}

	cur := fields.NewCursor(fs)
	id, err := cur.ConsumeText()
	if err != nil {
		a.sink.Log(logsink.SeverityWarn, "malformed message from Spearhead", "error", err.Error())
		return
	}

	switch id {
	case messageIDRulesResponse:
		a.handleRulesResponse(cur)
	default:
		a.sink.Log(logsink.SeverityWarn, "unknown message id from Spearhead", "id", id)
	}
}

func (a *Agent) handleRulesResponse(cur *fields.Cursor) {
	payload, err := cur.ConsumeText()
	if err != nil {
		a.sink.Log(logsink.SeverityWarn, "malformed rules_response", "error", err.Error())
		return
	}

	rs, err := rules.LoadRulesFromJSON([]byte(payload))
	if err != nil {
		a.sink.Log(logsink.SeverityError, "parse rules_response failed", "error", err.Error())
		return
	}

	a.rules = rs
	a.metrics.RuleUpdatesReceived.Inc()
	a.sink.Log(logsink.SeverityInfo, "rules updated", "count", len(rs))
}
