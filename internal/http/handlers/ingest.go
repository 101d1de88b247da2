package handlers

import (
	"context"
	"log"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"packetwatch/internal/config"
	dbpkg "packetwatch/internal/db"
	"packetwatch/internal/dispatch"
	"packetwatch/internal/metrics"
	"packetwatch/internal/objstore"
)

// IngestHandler accepts one compressed telemetry batch: authenticate (done
// by middleware), decompress and validate, persist the raw payload to the
// object store, index the batch metadata, refresh the server/session/player
// identity rows and enqueue the batch for dispatch.
//
// The metadata row is only written after the object write succeeds, so any
// consumer resolving a batch ID can always retrieve its payload.
func IngestHandler(db *gorm.DB, store objstore.Store, disp *dispatch.Dispatcher, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		serverExt := string(ctx.Request.Header.Peek("X-Server-Id"))
		sessionExt := string(ctx.Request.Header.Peek("X-Session-Id"))
		if serverExt == "" || sessionExt == "" {
			metrics.IngestRejected.WithLabelValues("missing_headers").Inc()
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("X-Server-Id and X-Session-Id headers are required")
			return
		}

		raw := ctx.PostBody()
		meta, packets, err := parseBatch(raw, cfg.MaxBatchBytes)
		if err != nil {
			metrics.IngestRejected.WithLabelValues("malformed").Inc()
			log.Printf("ingest: rejecting malformed batch from server %s: %v", serverExt, err)
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString(err.Error())
			return
		}
		if meta.ServerID != serverExt {
			metrics.IngestRejected.WithLabelValues("malformed").Inc()
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("batch metadata server_id does not match X-Server-Id")
			return
		}

		now := time.Now().UTC()

		srv, err := dbpkg.TouchServer(db, serverExt, now)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("database error")
			return
		}
		if !srv.Linked() {
			metrics.IngestRejected.WithLabelValues("unregistered").Inc()
			writeJSON(ctx, fasthttp.StatusConflict, map[string]any{
				"status": "waiting_for_registration",
				"server": serverExt,
			})
			return
		}

		// Raw bytes first; the Batch row must never point at a missing object.
		key := objstore.BatchKey(cfg.S3KeyPrefix, serverExt, now)
		if err := store.Put(context.Background(), key, raw); err != nil {
			log.Printf("ingest: object store write failed for server %s: %v", serverExt, err)
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to persist raw batch")
			return
		}

		sess, err := dbpkg.TouchSession(db, srv.ID, sessionExt, now)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("database error")
			return
		}
		if err := dbpkg.UpsertPlayers(db, srv.ID, batchPlayers(packets), now); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("database error")
			return
		}

		minTS, maxTS := timestampBounds(packets)
		batch := dbpkg.Batch{
			ServerID:     srv.ID,
			SessionID:    sess.ID,
			ReceivedAt:   now,
			RawObjectKey: key,
			PayloadBytes: int64(len(raw)),
			EventCount:   len(packets),
			MinTS:        minTS,
			MaxTS:        maxTS,
		}
		if err := dbpkg.CreateBatch(db, &batch); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to index batch")
			return
		}

		if !disp.Enqueue(dispatch.Job{
			BatchID:          batch.ID,
			ServerID:         srv.ID,
			ServerExternalID: serverExt,
			RawObjectKey:     key,
			Packets:          packets,
		}) {
			// Best-effort relative to ingest success; the raw object remains
			// recoverable for reprocessing.
			log.Printf("ingest: dispatch queue full, batch %d not dispatched", batch.ID)
		}

		metrics.BatchesIngested.WithLabelValues(serverExt).Inc()
		metrics.EventsIngested.WithLabelValues(serverExt).Add(float64(len(packets)))
		metrics.BatchBytes.WithLabelValues(serverExt).Observe(float64(len(raw)))

		writeJSON(ctx, fasthttp.StatusAccepted, map[string]any{
			"status":   "accepted",
			"batch_id": batch.ID,
			"events":   len(packets),
		})
	}
}

// HandshakeHandler is the producer heartbeat. Unlike ingest it always
// returns 200, reporting registration state in the body, so producers do
// not treat a pending registration as a hard failure.
func HandshakeHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		serverExt := string(ctx.Request.Header.Peek("X-Server-Id"))
		if serverExt == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("X-Server-Id header is required")
			return
		}

		srv, err := dbpkg.TouchServer(db, serverExt, time.Now().UTC())
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("database error")
			return
		}

		status := "ok"
		if !srv.Linked() {
			status = "waiting_for_registration"
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"status": status})
	}
}
