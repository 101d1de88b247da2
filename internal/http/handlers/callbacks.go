package handlers

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "packetwatch/internal/db"
	"packetwatch/internal/metrics"
	"packetwatch/internal/moduleapi"
)

// resolveServer maps an external server ID from a callback body to its row.
func resolveServer(ctx *fasthttp.RequestCtx, db *gorm.DB, externalID string) (*dbpkg.Server, bool) {
	if externalID == "" {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("server_id is required")
		return nil, false
	}

	var srv dbpkg.Server
	if err := db.Where("external_id = ?", externalID).First(&srv).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("unknown server")
			return nil, false
		}
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("database error")
		return nil, false
	}
	return &srv, true
}

// FindingsCallback receives detection results from modules and aggregates
// them into deduplicated minute-bucket finding rows.
func FindingsCallback(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req moduleapi.FindingsRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("invalid JSON body")
			return
		}

		srv, ok := resolveServer(ctx, db, req.ServerID)
		if !ok {
			return
		}

		for _, f := range req.Findings {
			if f.FeatureID == "" {
				ctx.SetStatusCode(fasthttp.StatusBadRequest)
				ctx.SetBodyString("finding feature_id is required")
				return
			}

			detectedAt := time.UnixMilli(f.TimestampMS).UTC()
			if f.TimestampMS == 0 {
				detectedAt = time.Now().UTC()
			}

			up := dbpkg.FindingUpsert{
				ServerID:     srv.ID,
				PlayerUUID:   f.PlayerUUID,
				DetectorName: f.FeatureID,
				DetectedAt:   detectedAt,
				Severity:     severityFor(f.VL, f.MaxVL),
				Title:        f.FeatureID,
				Description:  f.Description,
				Evidence: datatypes.JSONMap{
					"value":           f.Value,
					"vl":              f.VL,
					"max_vl":          f.MaxVL,
					"should_mitigate": f.ShouldMitigate,
					"timestamp_ms":    f.TimestampMS,
				},
			}
			if err := dbpkg.UpsertFinding(db, &up); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to persist finding")
				return
			}
			metrics.FindingsTotal.WithLabelValues(f.FeatureID).Inc()
		}

		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"status": "ok",
			"count":  len(req.Findings),
		})
	}
}

// severityFor grades a finding by how far its VL has climbed toward the
// check's escalation ceiling.
func severityFor(vl, maxVL float64) string {
	if maxVL <= 0 {
		return "low"
	}
	switch ratio := vl / maxVL; {
	case ratio >= 1:
		return "high"
	case ratio >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// StateBatchGet serves the load half of the state store contract.
func StateBatchGet(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req moduleapi.StateBatchGetRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("invalid JSON body")
			return
		}
		srv, ok := resolveServer(ctx, db, req.ServerID)
		if !ok {
			return
		}
		if req.ModuleName == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("module_name is required")
			return
		}

		states, err := dbpkg.GetPlayerStates(db, srv.ID, req.ModuleName, req.PlayerUUIDs)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("state store error")
			return
		}

		out := make(map[string]map[string]any, len(states))
		for uuid, state := range states {
			out[uuid] = map[string]any(state)
		}
		writeJSON(ctx, fasthttp.StatusOK, moduleapi.StateBatchGetResponse{States: out})
	}
}

// StateBatchSet serves the store half: last-write-wins upsert per player.
func StateBatchSet(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req moduleapi.StateBatchSetRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("invalid JSON body")
			return
		}
		srv, ok := resolveServer(ctx, db, req.ServerID)
		if !ok {
			return
		}
		if req.ModuleName == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("module_name is required")
			return
		}

		updates := make(map[string]datatypes.JSONMap, len(req.Updates))
		for uuid, state := range req.Updates {
			updates[uuid] = datatypes.JSONMap(state)
		}
		if err := dbpkg.PutPlayerStates(db, srv.ID, req.ModuleName, updates); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("state store error")
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "ok"})
	}
}

// GlobalStateGet serves the server-global state blob for a module.
func GlobalStateGet(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req moduleapi.GlobalStateGetRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("invalid JSON body")
			return
		}
		srv, ok := resolveServer(ctx, db, req.ServerID)
		if !ok {
			return
		}
		if req.ModuleName == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("module_name is required")
			return
		}

		state, err := dbpkg.GetGlobalState(db, srv.ID, req.ModuleName)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("state store error")
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, moduleapi.GlobalStateGetResponse{State: state})
	}
}

// GlobalStateSet stores the server-global state blob, last write wins.
func GlobalStateSet(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req moduleapi.GlobalStateSetRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("invalid JSON body")
			return
		}
		srv, ok := resolveServer(ctx, db, req.ServerID)
		if !ok {
			return
		}
		if req.ModuleName == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("module_name is required")
			return
		}

		if err := dbpkg.PutGlobalState(db, srv.ID, req.ModuleName, datatypes.JSONMap(req.State)); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("state store error")
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "ok"})
	}
}
