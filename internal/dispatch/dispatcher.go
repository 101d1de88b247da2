package dispatch

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	dbpkg "packetwatch/internal/db"
	"packetwatch/internal/metrics"
	"packetwatch/internal/moduleapi"
	"packetwatch/internal/sequencer"
)

// Job is one ingested batch queued for fan-out.
type Job struct {
	BatchID          uint
	ServerID         uint
	ServerExternalID string
	RawObjectKey     string
	Packets          []moduleapi.Packet
}

// Options tunes the dispatcher.
type Options struct {
	Workers  int
	QueueCap int

	// Timeout bounds one delivery to one module.
	Timeout time.Duration

	// UnhealthyThreshold is the consecutive-failure count at which a
	// module is skipped until a health check succeeds.
	UnhealthyThreshold int
}

// Dispatcher fans each batch out to the server's enabled, healthy module
// subscriptions. Deliveries are fire-and-forget per module: failures are
// recorded and counted, never retried per batch, since the raw payload
// stays recoverable from the object store.
type Dispatcher struct {
	store Store
	opts  Options
	queue chan Job
	seq   *sequencer.Sequencer
	httpc *fasthttp.Client
	wg    sync.WaitGroup
}

func New(store Store, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueCap < 1 {
		opts.QueueCap = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UnhealthyThreshold < 1 {
		opts.UnhealthyThreshold = 3
	}
	return &Dispatcher{
		store: store,
		opts:  opts,
		queue: make(chan Job, opts.QueueCap),
		seq:   sequencer.New(),
		httpc: &fasthttp.Client{},
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for job := range d.queue {
				d.fanOut(job)
			}
		}()
	}
}

// Enqueue queues a batch for dispatch without blocking. Returns false when
// the queue is full; the batch remains recoverable from the object store.
func (d *Dispatcher) Enqueue(job Job) bool {
	select {
	case d.queue <- job:
		return true
	default:
		return false
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
	d.seq.Wait()
}

// fanOut schedules one delivery per enabled, healthy subscription. Distinct
// modules run in parallel; deliveries to the same (server, module) run
// strictly in submission order through the sequencer, so a slow module
// never delays a healthy one and batches reach each module in arrival
// order (the module side serializes check execution on top of that).
func (d *Dispatcher) fanOut(job Job) {
	subs, err := d.store.EnabledSubscriptions(job.ServerID)
	if err != nil {
		log.Printf("dispatch: loading subscriptions for server %d: %v", job.ServerID, err)
		return
	}

	for _, sub := range subs {
		if sub.ConsecutiveFailures >= d.opts.UnhealthyThreshold {
			metrics.ModulesSkipped.WithLabelValues(sub.Name).Inc()
			continue
		}

		sub := sub
		key := strconv.Itoa(int(job.ServerID)) + "/" + sub.Name
		d.seq.Do(key, func() {
			d.deliver(job, sub)
		})
	}
}

func (d *Dispatcher) deliver(job Job, sub dbpkg.ModuleSubscription) {
	payload := moduleapi.IngestRequest{
		BatchID:  uint64(job.BatchID),
		ServerID: job.ServerExternalID,
	}

	switch sub.Transform {
	case "meta":
		payload.RawObjectKey = job.RawObjectKey
	default: // "packets"
		payload.Packets = job.Packets
		// Dispatch-time snapshot only; modules that read-modify-write
		// their state reload it inside their serialized check window.
		states, err := d.store.PlayerStates(job.ServerID, sub.Name, playerUUIDs(job.Packets))
		if err != nil {
			log.Printf("dispatch: prefetching states for %s: %v", sub.Name, err)
		} else {
			payload.PlayerStates = states
		}
	}

	start := time.Now()
	status, err := d.post(sub.BaseURL+"/ingest", payload)
	elapsed := time.Since(start)
	metrics.DispatchDuration.WithLabelValues(sub.Name).Observe(elapsed.Seconds())

	rec := dbpkg.DispatchRecord{
		BatchID:    job.BatchID,
		ServerID:   job.ServerID,
		ModuleID:   sub.ID,
		HTTPStatus: status,
	}

	if err == nil && status >= 200 && status <= 299 {
		rec.Status = "sent"
		metrics.DispatchesTotal.WithLabelValues(sub.Name, "sent").Inc()
		if err := d.store.MarkDispatchSuccess(sub.ID); err != nil {
			log.Printf("dispatch: clearing failures for %s: %v", sub.Name, err)
		}
	} else {
		rec.Status = "failed"
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Error = fmt.Sprintf("module returned status %d", status)
		}
		metrics.DispatchesTotal.WithLabelValues(sub.Name, "failed").Inc()

		n, merr := d.store.MarkDispatchFailure(sub.ID, rec.Error)
		if merr != nil {
			log.Printf("dispatch: recording failure for %s: %v", sub.Name, merr)
		} else if n == d.opts.UnhealthyThreshold {
			log.Printf("dispatch: module %s marked unhealthy after %d consecutive failures: %s",
				sub.Name, n, rec.Error)
		}
	}

	if err := d.store.RecordDispatch(&rec); err != nil {
		log.Printf("dispatch: writing audit row for batch %d module %s: %v", job.BatchID, sub.Name, err)
	}
}

func (d *Dispatcher) post(url string, payload moduleapi.IngestRequest) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := d.httpc.DoTimeout(req, resp, d.opts.Timeout); err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// playerUUIDs collects the distinct player identities appearing in a batch.
func playerUUIDs(packets []moduleapi.Packet) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range packets {
		if p.UUID == "" {
			continue
		}
		if _, ok := seen[p.UUID]; ok {
			continue
		}
		seen[p.UUID] = struct{}{}
		out = append(out, p.UUID)
	}
	return out
}
