package scoring

import (
	"reflect"
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) *Spec {
	t.Helper()
	spec, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return spec
}

func TestParseSegments(t *testing.T) {
	spec := mustParse(t, "cancel vl>10 log:x:0:5:if vl>50 cmd:kick")

	want := []Segment{
		{Threshold: 0, Actions: []Action{Cancel{}}},
		{Threshold: 10, Actions: []Action{Log{Tag: "x", Delay: 0, Repeat: 5, File: true, Notify: true}}},
		{Threshold: 50, Actions: []Action{Command{Name: "kick"}}},
	}
	if !reflect.DeepEqual(spec.Segments, want) {
		t.Fatalf("Segments = %#v, want %#v", spec.Segments, want)
	}
}

func TestActiveAtThresholdOrdering(t *testing.T) {
	spec := mustParse(t, "cancel vl>10 log:x:0:5:if vl>50 cmd:kick")

	cases := []struct {
		vl   float64
		want int
	}{
		{5, 1},  // only the base cancel
		{15, 2}, // cancel + log
		{60, 3}, // all three segments
		{10, 2}, // threshold is inclusive
	}
	for _, c := range cases {
		got := spec.ActiveAt(c.vl)
		if len(got) != c.want {
			t.Fatalf("ActiveAt(%v) = %d actions, want %d", c.vl, len(got), c.want)
		}
	}

	// Ascending order: base cancel first, kick last.
	all := spec.ActiveAt(60)
	if _, ok := all[0].(Cancel); !ok {
		t.Fatalf("first active action = %#v, want Cancel", all[0])
	}
	if cmd, ok := all[2].(Command); !ok || cmd.Name != "kick" {
		t.Fatalf("last active action = %#v, want cmd:kick", all[2])
	}
}

func TestParseUnorderedThresholds(t *testing.T) {
	// Thresholds written out of order still evaluate ascending.
	spec := mustParse(t, "vl>50 cmd:kick vl>10 cancel")
	all := spec.ActiveAt(60)
	if len(all) != 2 {
		t.Fatalf("ActiveAt(60) = %d actions, want 2", len(all))
	}
	if _, ok := all[0].(Cancel); !ok {
		t.Fatalf("first action = %#v, want Cancel from the lower threshold", all[0])
	}
}

func TestParseActionVariants(t *testing.T) {
	cases := []struct {
		in   string
		want Action
	}{
		{"cancel", Cancel{}},
		{"30%cancel", ProbabilisticCancel{Percent: 30}},
		{"log:reach:2:10:cfi", Log{Tag: "reach", Delay: 2, Repeat: 10, Console: true, File: true, Notify: true}},
		{"cmd:ban:1:60", Command{Name: "ban", Delay: 1, Repeat: 60}},
		{"cmdc:warn", Command{Name: "warn", Substitute: true}},
	}
	for _, c := range cases {
		spec := mustParse(t, c.in)
		got := spec.ActiveAt(0)
		if len(got) != 1 || !reflect.DeepEqual(got[0], c.want) {
			t.Fatalf("Parse(%q) action = %#v, want %#v", c.in, got, c.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"vl>x cancel",
		"vl>-3 cancel",
		"log:short:0:5", // missing flags field
		"log:x:0:5:z",   // unknown flag
		"150%cancel",
		"cmd:",
		"cmd:kick:1:2:3",
		"teleport",
	}
	for _, s := range bad {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestShouldCancel(t *testing.T) {
	spec := mustParse(t, "vl>10 cancel")
	if spec.ShouldCancel(5) {
		t.Fatal("cancel fired below threshold")
	}
	if !spec.ShouldCancel(15) {
		t.Fatal("cancel did not fire above threshold")
	}
}

func TestProbabilisticCancelDraw(t *testing.T) {
	spec := mustParse(t, "40%cancel")

	if !spec.shouldCancel(0, func(p int) bool { return true }) {
		t.Fatal("winning draw did not cancel")
	}
	if spec.shouldCancel(0, func(p int) bool {
		if p != 40 {
			t.Fatalf("draw percent = %d, want 40", p)
		}
		return false
	}) {
		t.Fatal("losing draw cancelled")
	}

	// 0% never cancels, 100% always does.
	never := mustParse(t, "0%cancel")
	always := mustParse(t, "100%cancel")
	for i := 0; i < 50; i++ {
		if never.ShouldCancel(0) {
			t.Fatalf("0%%cancel fired")
		}
		if !always.ShouldCancel(0) {
			t.Fatalf("100%%cancel did not fire")
		}
	}
}

func TestThrottle(t *testing.T) {
	th := NewThrottle()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// delay=2: the first two triggers are swallowed.
	if th.Allow("k", 2, 0, now) {
		t.Fatal("first trigger fired despite delay")
	}
	if th.Allow("k", 2, 0, now) {
		t.Fatal("second trigger fired despite delay")
	}
	if !th.Allow("k", 2, 0, now) {
		t.Fatal("third trigger did not fire")
	}

	// repeat=10: emissions need 10s spacing.
	if th.Allow("k", 2, 10, now.Add(5*time.Second)) {
		t.Fatal("emission inside repeat window")
	}
	if !th.Allow("k", 2, 10, now.Add(11*time.Second)) {
		t.Fatal("emission after repeat window did not fire")
	}

	// Distinct keys are independent.
	if !th.Allow("other", 0, 0, now) {
		t.Fatal("independent key throttled")
	}
}
