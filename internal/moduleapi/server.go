package moduleapi

import (
	"log"

	"github.com/fasthttp/router"
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"packetwatch/internal/sequencer"
)

// CheckFunc runs a module's checks over one delivered batch. It is invoked
// off the request goroutine after the ingest response has been sent, and
// deliveries for one server run strictly in arrival order.
type CheckFunc func(req *IngestRequest)

// Handler builds the fasthttp handler for a conforming detection module:
// GET /health with the module's identity and POST /ingest accepting batch
// deliveries. Ingest responds 202 immediately, but check execution is
// serialized per server, so a check's state read-modify-write window never
// overlaps itself for one server's batches even though the dispatcher does
// not wait for check completion.
func Handler(name, version string, check CheckFunc) fasthttp.RequestHandler {
	r := router.New()
	seq := sequencer.New()

	r.GET("/health", func(ctx *fasthttp.RequestCtx) {
		body, _ := json.Marshal(HealthResponse{OK: true, Name: name, Version: version})
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	})

	r.POST("/ingest", func(ctx *fasthttp.RequestCtx) {
		var req IngestRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("invalid JSON body")
			return
		}

		ctx.SetStatusCode(fasthttp.StatusAccepted)

		seq.Do(req.ServerID, func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("%s: check panic on batch %d: %v", name, req.BatchID, r)
				}
			}()
			check(&req)
		})
	})

	return r.Handler
}

// ListenAndServe runs a conforming module server until the listener fails.
func ListenAndServe(addr, name, version string, check CheckFunc) error {
	log.Printf("%s module listening on %s", name, addr)
	return fasthttp.ListenAndServe(addr, Handler(name, version, check))
}
