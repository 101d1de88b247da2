package dispatch

import (
	"fmt"
	"log"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"packetwatch/internal/moduleapi"
)

// HealthChecker probes every registered module's /health endpoint on a
// fixed interval, decoupled from batch traffic. A successful probe resets
// the module's consecutive_failures so the dispatcher resumes delivery.
type HealthChecker struct {
	store    Store
	interval time.Duration
	timeout  time.Duration
	httpc    *fasthttp.Client
}

func NewHealthChecker(store Store, interval, timeout time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthChecker{
		store:    store,
		interval: interval,
		timeout:  timeout,
		httpc:    &fasthttp.Client{},
	}
}

// Start launches the background loop: one pass at startup, then one per
// interval.
func (h *HealthChecker) Start() {
	go func() {
		h.RunOnce()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for range ticker.C {
			h.RunOnce()
		}
	}()
}

// RunOnce probes every registered subscription. Each module is probed
// independently; one unreachable module does not delay the others' fixed
// timeout budget by more than its own.
func (h *HealthChecker) RunOnce() {
	subs, err := h.store.AllSubscriptions()
	if err != nil {
		log.Printf("healthcheck: loading subscriptions: %v", err)
		return
	}

	for _, sub := range subs {
		now := time.Now().UTC()
		ok, probeErr := h.probe(sub.BaseURL)

		errMsg := ""
		if probeErr != nil {
			errMsg = probeErr.Error()
		}
		if err := h.store.MarkHealthcheck(sub.ID, now, ok, errMsg); err != nil {
			log.Printf("healthcheck: recording result for %s: %v", sub.Name, err)
		}
		if ok && sub.ConsecutiveFailures > 0 {
			log.Printf("healthcheck: module %s healthy again after %d dispatch failures",
				sub.Name, sub.ConsecutiveFailures)
		}
	}
}

func (h *HealthChecker) probe(baseURL string) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + "/health")
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := h.httpc.DoTimeout(req, resp, h.timeout); err != nil {
		return false, err
	}
	if sc := resp.StatusCode(); sc < 200 || sc > 299 {
		return false, fmt.Errorf("health endpoint returned status %d", sc)
	}

	var body moduleapi.HealthResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return false, fmt.Errorf("decode health response: %w", err)
	}
	if !body.OK {
		return false, fmt.Errorf("module %s reports not ok", body.Name)
	}
	return true, nil
}
