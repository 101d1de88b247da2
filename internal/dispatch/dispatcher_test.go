package dispatch

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	dbpkg "packetwatch/internal/db"
	"packetwatch/internal/metrics"
	"packetwatch/internal/moduleapi"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

// fakeStore is an in-memory Store for dispatcher and health-check tests.
type fakeStore struct {
	mu      sync.Mutex
	subs    []dbpkg.ModuleSubscription
	records []dbpkg.DispatchRecord
}

func (s *fakeStore) EnabledSubscriptions(serverID uint) ([]dbpkg.ModuleSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dbpkg.ModuleSubscription
	for _, sub := range s.subs {
		if sub.ServerID == serverID && sub.Enabled {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fakeStore) AllSubscriptions() ([]dbpkg.ModuleSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dbpkg.ModuleSubscription(nil), s.subs...), nil
}

func (s *fakeStore) RecordDispatch(rec *dbpkg.DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.CreatedAt = time.Now()
	s.records = append(s.records, *rec)
	return nil
}

func (s *fakeStore) MarkDispatchFailure(moduleID uint, lastError string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subs {
		if s.subs[i].ID == moduleID {
			s.subs[i].ConsecutiveFailures++
			s.subs[i].LastError = lastError
			return s.subs[i].ConsecutiveFailures, nil
		}
	}
	return 0, fmt.Errorf("no module %d", moduleID)
}

func (s *fakeStore) MarkDispatchSuccess(moduleID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subs {
		if s.subs[i].ID == moduleID {
			s.subs[i].ConsecutiveFailures = 0
			s.subs[i].LastError = ""
		}
	}
	return nil
}

func (s *fakeStore) MarkHealthcheck(moduleID uint, at time.Time, ok bool, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subs {
		if s.subs[i].ID == moduleID {
			t := at
			s.subs[i].LastHealthcheckAt = &t
			s.subs[i].LastHealthcheckOK = ok
			if ok {
				s.subs[i].ConsecutiveFailures = 0
				s.subs[i].LastError = ""
			} else if lastError != "" {
				s.subs[i].LastError = lastError
			}
		}
	}
	return nil
}

func (s *fakeStore) PlayerStates(serverID uint, moduleName string, playerUUIDs []string) (map[string]map[string]any, error) {
	return nil, nil
}

func (s *fakeStore) recordsByModule(moduleID uint) []dbpkg.DispatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dbpkg.DispatchRecord
	for _, r := range s.records {
		if r.ModuleID == moduleID {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeStore) sub(moduleID uint) dbpkg.ModuleSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.ID == moduleID {
			return sub
		}
	}
	return dbpkg.ModuleSubscription{}
}

func testJob() Job {
	return Job{
		BatchID:          1,
		ServerID:         1,
		ServerExternalID: "srv-1",
		Packets: []moduleapi.Packet{
			{TS: 1700000000000, Dir: "c2s", Pkt: "arm_swing", UUID: "u1"},
		},
	}
}

func TestDispatchIndependence(t *testing.T) {
	// One module times out, the other succeeds: the slow module must not
	// delay the healthy one, and both get audit rows.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer slow.Close()

	var mu sync.Mutex
	var fastReceived time.Time
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fastReceived = time.Now()
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer fast.Close()

	store := &fakeStore{subs: []dbpkg.ModuleSubscription{
		{ID: 1, ServerID: 1, Name: "slow", BaseURL: slow.URL, Enabled: true, Transform: "packets"},
		{ID: 2, ServerID: 1, Name: "fast", BaseURL: fast.URL, Enabled: true, Transform: "packets"},
	}}

	d := New(store, Options{Workers: 1, QueueCap: 4, Timeout: 100 * time.Millisecond, UnhealthyThreshold: 3})
	d.Start()

	start := time.Now()
	if !d.Enqueue(testJob()) {
		t.Fatal("enqueue failed")
	}
	d.Stop()

	fastRecs := store.recordsByModule(2)
	if len(fastRecs) != 1 || fastRecs[0].Status != "sent" {
		t.Fatalf("fast module records = %+v, want one sent", fastRecs)
	}
	slowRecs := store.recordsByModule(1)
	if len(slowRecs) != 1 || slowRecs[0].Status != "failed" {
		t.Fatalf("slow module records = %+v, want one failed", slowRecs)
	}

	// The healthy delivery happened within its own timeout bound, not the
	// slow module's stall.
	mu.Lock()
	received := fastReceived
	mu.Unlock()
	if received.Sub(start) > 100*time.Millisecond {
		t.Fatalf("fast delivery delayed %v by slow module", received.Sub(start))
	}

	if got := store.sub(1).ConsecutiveFailures; got != 1 {
		t.Fatalf("slow module consecutive_failures = %d, want 1", got)
	}
	if store.sub(1).LastError == "" {
		t.Fatal("slow module last_error not recorded")
	}
}

func TestUnhealthyTransitionAndRecovery(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			fmt.Fprintf(w, `{"ok":true,"name":"combat","version":"1"}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	store := &fakeStore{subs: []dbpkg.ModuleSubscription{
		{ID: 1, ServerID: 1, Name: "combat", BaseURL: failing.URL, Enabled: true, Transform: "packets"},
	}}

	d := New(store, Options{Workers: 1, QueueCap: 8, Timeout: time.Second, UnhealthyThreshold: 2})
	d.Start()

	// Two failing deliveries reach the threshold.
	d.Enqueue(testJob())
	d.Enqueue(testJob())
	d.Stop()

	if got := store.sub(1).ConsecutiveFailures; got != 2 {
		t.Fatalf("consecutive_failures = %d, want 2", got)
	}
	if got := len(store.recordsByModule(1)); got != 2 {
		t.Fatalf("dispatch records = %d, want 2", got)
	}

	// The next batch is skipped without an attempt: no new audit row.
	d2 := New(store, Options{Workers: 1, QueueCap: 8, Timeout: time.Second, UnhealthyThreshold: 2})
	d2.Start()
	d2.Enqueue(testJob())
	d2.Stop()

	if got := len(store.recordsByModule(1)); got != 2 {
		t.Fatalf("dispatch records after skip = %d, want still 2", got)
	}

	// A successful health check resets the counter and delivery resumes
	// (still failing here, so a fresh audit row appears).
	hc := NewHealthChecker(store, time.Minute, time.Second)
	hc.RunOnce()

	if got := store.sub(1).ConsecutiveFailures; got != 0 {
		t.Fatalf("consecutive_failures after health check = %d, want 0", got)
	}
	if !store.sub(1).LastHealthcheckOK {
		t.Fatal("last_healthcheck_ok not set")
	}

	d3 := New(store, Options{Workers: 1, QueueCap: 8, Timeout: time.Second, UnhealthyThreshold: 2})
	d3.Start()
	d3.Enqueue(testJob())
	d3.Stop()

	if got := len(store.recordsByModule(1)); got != 3 {
		t.Fatalf("dispatch records after recovery = %d, want 3", got)
	}
}

func TestHealthCheckRecordsFailure(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	store := &fakeStore{subs: []dbpkg.ModuleSubscription{
		{ID: 1, ServerID: 1, Name: "combat", BaseURL: down.URL, Enabled: true},
	}}

	hc := NewHealthChecker(store, time.Minute, time.Second)
	hc.RunOnce()

	sub := store.sub(1)
	if sub.LastHealthcheckOK {
		t.Fatal("last_healthcheck_ok set for failing module")
	}
	if sub.LastHealthcheckAt == nil {
		t.Fatal("last_healthcheck_at not recorded")
	}
	if sub.LastError == "" {
		t.Fatal("last_error not recorded")
	}
}

func TestDispatchMetaTransform(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	store := &fakeStore{subs: []dbpkg.ModuleSubscription{
		{ID: 1, ServerID: 1, Name: "combat", BaseURL: srv.URL, Enabled: true, Transform: "meta"},
	}}

	d := New(store, Options{Workers: 1, QueueCap: 4, Timeout: time.Second, UnhealthyThreshold: 3})
	d.Start()
	job := testJob()
	job.RawObjectKey = "raw/srv-1/2026/03/01/abc.jsonl.gz"
	d.Enqueue(job)
	d.Stop()

	body := string(gotBody)
	if !strings.Contains(body, job.RawObjectKey) {
		t.Fatalf("meta payload missing raw object key: %s", body)
	}
	if strings.Contains(body, "arm_swing") {
		t.Fatalf("meta payload carries packets: %s", body)
	}
}
