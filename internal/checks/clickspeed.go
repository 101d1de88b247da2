// Package checks contains detection checks built on the scoring primitive
// and the module protocol. Each check is stateless between batches except
// for what it persists through the state store client.
package checks

import (
	"fmt"
	"log"
	"time"

	"packetwatch/internal/moduleapi"
	"packetwatch/internal/scoring"
)

// Click-rate tuning: a 30-second full window of one-second buckets with a
// five-second short horizon. The limits are total clicks per horizon, so
// anything sustained above 15/s long-term or 20/s short-term violates.
const (
	clickBucketWidth = time.Second
	clickBuckets     = 30
	clickShort       = 5

	clickFullLimit  = 450 // 15 cps over the full window
	clickShortLimit = 100 // 20 cps over the short window
)

// DefaultClickSpeedActions escalates from silent observation through
// throttled logging to a kick command template.
const DefaultClickSpeedActions = "vl>40 log:clickspeed:0:5:cf vl>100 cancel cmdc:kick"

// ClickSpeed flags players whose click-packet rate exceeds humanly
// plausible limits. Per-player violation state lives in the state store
// under this module's name.
type ClickSpeed struct {
	Client     *moduleapi.Client
	ModuleName string
	FeatureID  string

	// MaxVL scales finding severity; at VL >= MaxVL a finding is graded
	// high by the aggregator.
	MaxVL float64

	actions  *scoring.Spec
	throttle *scoring.Throttle
	now      func() time.Time
}

// NewClickSpeed builds the check with the default action specification.
func NewClickSpeed(client *moduleapi.Client, moduleName string) *ClickSpeed {
	spec, err := scoring.Parse(DefaultClickSpeedActions)
	if err != nil {
		// The default spec is a constant; failing to parse it is a bug.
		panic(err)
	}
	return &ClickSpeed{
		Client:     client,
		ModuleName: moduleName,
		FeatureID:  "clickspeed",
		MaxVL:      100,
		actions:    spec,
		throttle:   scoring.NewThrottle(),
		now:        time.Now,
	}
}

// Run processes one delivered batch: load per-player state, feed click
// packets into the bucketed counter, evaluate the violation level and push
// findings for raised players. State updates are written back through the
// state store; the module server's per-server check sequencing keeps the
// read-modify-write window from overlapping itself.
//
// State is always loaded fresh here rather than from the delivery's
// dispatch-time snapshot, which may predate the previous batch's write-back.
func (c *ClickSpeed) Run(req *moduleapi.IngestRequest) {
	clicks := clicksByPlayer(req.Packets)
	if len(clicks) == 0 {
		return
	}

	uuids := make([]string, 0, len(clicks))
	for uuid := range clicks {
		uuids = append(uuids, uuid)
	}
	states, err := c.Client.BatchGet(req.ServerID, c.ModuleName, uuids)
	if err != nil {
		// The store surfaced an error; skip scoring this batch rather
		// than proceed from states that may silently regress VLs.
		log.Printf("clickspeed: state load failed for batch %d: %v", req.BatchID, err)
		return
	}

	params := scoring.Params{
		FullLimit:  clickFullLimit,
		ShortLimit: clickShortLimit,
		Decay:      0.9,
		Raise:      func(v float64) float64 { return v / 10 },
	}

	updates := make(map[string]map[string]any)
	var findings []moduleapi.Finding

	for uuid, packets := range clicks {
		state := states[uuid]

		var counterState, violationState map[string]any
		if state != nil {
			counterState, _ = state["clicks"].(map[string]any)
			violationState, _ = state["violation"].(map[string]any)
		}
		counter := scoring.BucketCounterFromMap(counterState, clickBucketWidth, clickBuckets, clickShort)
		violation := scoring.ViolationFromMap(violationState)

		var latest time.Time
		for _, p := range packets {
			ts := time.UnixMilli(p.TS)
			counter.Add(ts, 1)
			if ts.After(latest) {
				latest = ts
			}
		}

		lag := lagFactor(packets)
		outcome := violation.Evaluate(params,
			counter.FullScore(latest), counter.ShortScore(latest), lag)

		if outcome.Raised {
			c.execute(uuid, outcome.VL)
			findings = append(findings, moduleapi.Finding{
				PlayerUUID: uuid,
				FeatureID:  c.FeatureID,
				Value:      outcome.Violation,
				VL:         outcome.VL,
				MaxVL:      c.MaxVL,
				TimestampMS: latest.UnixMilli(),
				Description: fmt.Sprintf("click rate %.1f over limit (vl %.1f)",
					outcome.Violation, outcome.VL),
				ShouldMitigate: c.actions.ShouldCancel(outcome.VL),
			})
		}

		updates[uuid] = map[string]any{
			"clicks":    counter.ToMap(),
			"violation": violation.ToMap(),
		}
	}

	if err := c.Client.BatchSet(req.ServerID, c.ModuleName, updates); err != nil {
		log.Printf("clickspeed: state save failed for batch %d: %v", req.BatchID, err)
	}
	if err := c.Client.PushFindings(req.ServerID, findings); err != nil {
		log.Printf("clickspeed: pushing %d findings for batch %d: %v", len(findings), req.BatchID, err)
	}
}

// execute runs the threshold-active side actions (logging, command
// templates) for one raised player.
func (c *ClickSpeed) execute(uuid string, vl float64) {
	now := c.now()
	for _, a := range c.actions.ActiveAt(vl) {
		switch a := a.(type) {
		case scoring.Log:
			key := a.Tag + "/" + uuid
			if c.throttle.Allow(key, a.Delay, a.Repeat, now) {
				log.Printf("clickspeed[%s]: player %s vl=%.1f", a.Tag, uuid, vl)
			}
		case scoring.Command:
			key := "cmd:" + a.Name + "/" + uuid
			if c.throttle.Allow(key, a.Delay, a.Repeat, now) {
				log.Printf("clickspeed: requesting command %q for player %s (vl=%.1f)", a.Name, uuid, vl)
			}
		}
	}
}

// clicksByPlayer keeps only client-to-server click packets, grouped by
// player.
func clicksByPlayer(packets []moduleapi.Packet) map[string][]moduleapi.Packet {
	out := make(map[string][]moduleapi.Packet)
	for _, p := range packets {
		if p.UUID == "" || p.Dir != "c2s" {
			continue
		}
		if p.Pkt != "arm_swing" && p.Pkt != "use_entity" {
			continue
		}
		out[p.UUID] = append(out[p.UUID], p)
	}
	return out
}

// lagFactor averages the capture agent's per-packet lag samples, defaulting
// to 1 (no lag) when the agent supplies none.
func lagFactor(packets []moduleapi.Packet) float64 {
	var sum float64
	var n int
	for _, p := range packets {
		if v, ok := p.Fields["lag"]; ok {
			if f, ok := v.(float64); ok && f > 0 {
				sum += f
				n++
			}
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}
