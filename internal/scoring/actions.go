package scoring

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Action is one primitive from the threshold-indexed action grammar.
type Action interface {
	isAction()
}

// Cancel vetoes the triggering event (here: suppresses a derived mitigation
// signal, since this system observes telemetry rather than owning game state).
type Cancel struct{}

// ProbabilisticCancel cancels with independent probability Percent/100 on
// each evaluation.
type ProbabilisticCancel struct {
	Percent int
}

// Log emits a throttled log line. Delay is the number of triggers before the
// first emission; Repeat is the minimum seconds between emissions.
type Log struct {
	Tag    string
	Delay  int
	Repeat int

	// Destinations.
	Console bool
	File    bool
	Notify  bool
}

// Command invokes a named side-effecting action template (for example a
// moderation command). Substitute marks templates that need placeholder and
// color substitution before dispatch (the cmdc: variant).
type Command struct {
	Name       string
	Delay      int
	Repeat     int
	Substitute bool
}

func (Cancel) isAction()              {}
func (ProbabilisticCancel) isAction() {}
func (Log) isAction()                 {}
func (Command) isAction()             {}

// Segment is one threshold-gated action list. The base segment has
// threshold 0.
type Segment struct {
	Threshold int
	Actions   []Action
}

// Spec is a parsed action specification. Segments are held in ascending
// threshold order; all segments whose threshold is at or below the current
// VL apply cumulatively.
type Spec struct {
	Segments []Segment
}

// Parse parses an action specification such as
//
//	"cancel vl>10 log:x:0:5:if vl>50 cmd:kick"
//
// The string is segmented on "vl>" tokens; the leading segment is active at
// any VL, each following segment from its integer threshold upward.
func Parse(s string) (*Spec, error) {
	spec := &Spec{}
	cur := Segment{Threshold: 0}

	for _, tok := range strings.Fields(s) {
		if rest, ok := strings.CutPrefix(tok, "vl>"); ok {
			t, err := strconv.Atoi(rest)
			if err != nil || t < 0 {
				return nil, fmt.Errorf("actions: bad threshold %q", tok)
			}
			spec.Segments = append(spec.Segments, cur)
			cur = Segment{Threshold: t}
			continue
		}

		a, err := parseAction(tok)
		if err != nil {
			return nil, err
		}
		cur.Actions = append(cur.Actions, a)
	}
	spec.Segments = append(spec.Segments, cur)

	// Normalize to ascending thresholds so ActiveAt fires in order.
	for i := 1; i < len(spec.Segments); i++ {
		for j := i; j > 0 && spec.Segments[j].Threshold < spec.Segments[j-1].Threshold; j-- {
			spec.Segments[j], spec.Segments[j-1] = spec.Segments[j-1], spec.Segments[j]
		}
	}

	return spec, nil
}

func parseAction(tok string) (Action, error) {
	if tok == "cancel" {
		return Cancel{}, nil
	}

	if rest, ok := strings.CutSuffix(tok, "%cancel"); ok {
		p, err := strconv.Atoi(rest)
		if err != nil || p < 0 || p > 100 {
			return nil, fmt.Errorf("actions: bad probability in %q", tok)
		}
		return ProbabilisticCancel{Percent: p}, nil
	}

	if rest, ok := strings.CutPrefix(tok, "log:"); ok {
		parts := strings.Split(rest, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("actions: log wants tag:delay:repeat:flags, got %q", tok)
		}
		delay, err1 := strconv.Atoi(parts[1])
		repeat, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || delay < 0 || repeat < 0 {
			return nil, fmt.Errorf("actions: bad log throttle in %q", tok)
		}
		a := Log{Tag: parts[0], Delay: delay, Repeat: repeat}
		for _, f := range parts[3] {
			switch f {
			case 'c':
				a.Console = true
			case 'f':
				a.File = true
			case 'i':
				a.Notify = true
			default:
				return nil, fmt.Errorf("actions: unknown log flag %q in %q", string(f), tok)
			}
		}
		return a, nil
	}

	for _, prefix := range []string{"cmdc:", "cmd:"} {
		rest, ok := strings.CutPrefix(tok, prefix)
		if !ok {
			continue
		}
		parts := strings.Split(rest, ":")
		if parts[0] == "" {
			return nil, fmt.Errorf("actions: cmd wants a name, got %q", tok)
		}
		a := Command{Name: parts[0], Substitute: prefix == "cmdc:"}
		if len(parts) > 1 {
			d, err := strconv.Atoi(parts[1])
			if err != nil || d < 0 {
				return nil, fmt.Errorf("actions: bad cmd delay in %q", tok)
			}
			a.Delay = d
		}
		if len(parts) > 2 {
			r, err := strconv.Atoi(parts[2])
			if err != nil || r < 0 {
				return nil, fmt.Errorf("actions: bad cmd repeat in %q", tok)
			}
			a.Repeat = r
		}
		if len(parts) > 3 {
			return nil, fmt.Errorf("actions: cmd wants name[:delay[:repeat]], got %q", tok)
		}
		return a, nil
	}

	return nil, fmt.Errorf("actions: unknown action %q", tok)
}

// ActiveAt returns the actions of every segment whose threshold is at or
// below vl, in ascending threshold order.
func (s *Spec) ActiveAt(vl float64) []Action {
	var out []Action
	for _, seg := range s.Segments {
		if float64(seg.Threshold) <= vl {
			out = append(out, seg.Actions...)
		}
	}
	return out
}

// ShouldCancel reports whether the actions active at vl veto the triggering
// event. Deterministic except for the probabilistic variant, which draws
// independently per call.
func (s *Spec) ShouldCancel(vl float64) bool {
	return s.shouldCancel(vl, func(p int) bool { return rand.Intn(100) < p })
}

func (s *Spec) shouldCancel(vl float64, draw func(percent int) bool) bool {
	for _, a := range s.ActiveAt(vl) {
		switch a := a.(type) {
		case Cancel:
			return true
		case ProbabilisticCancel:
			if draw(a.Percent) {
				return true
			}
		}
	}
	return false
}

// Throttle tracks per-key emission history for Log and Command actions:
// delay counts triggers before the first emission, repeat enforces a
// minimum spacing in seconds between emissions. Safe for concurrent use.
type Throttle struct {
	mu     sync.Mutex
	counts map[string]int
	last   map[string]time.Time
}

func NewThrottle() *Throttle {
	return &Throttle{
		counts: make(map[string]int),
		last:   make(map[string]time.Time),
	}
}

// Allow records one trigger for key and reports whether the action should
// emit now.
func (t *Throttle) Allow(key string, delay, repeat int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[key]++
	if t.counts[key] <= delay {
		return false
	}
	if last, ok := t.last[key]; ok && now.Sub(last) < time.Duration(repeat)*time.Second {
		return false
	}
	t.last[key] = now
	return true
}
