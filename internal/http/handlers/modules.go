package handlers

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "packetwatch/internal/db"
	httpctx "packetwatch/internal/http/ctx"
)

// serverFromPath resolves the {server_id} path segment to a Server row, or
// sends 404 and returns (nil, false).
func serverFromPath(ctx *fasthttp.RequestCtx, db *gorm.DB) (*dbpkg.Server, bool) {
	externalID, _ := ctx.UserValue("server_id").(string)
	if externalID == "" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("unknown server")
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

type registerModuleRequest struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Transform string `json:"transform,omitempty"`
}

// RegisterModule registers or updates a module subscription for a server.
func RegisterModule(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		srv, ok := serverFromPath(ctx, db)
		if !ok {
			return
		}

		var req registerModuleRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("invalid JSON body")
			return
		}
		if req.Name == "" || req.BaseURL == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("name and base_url are required")
			return
		}

		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		transform := req.Transform
		if transform == "" {
			transform = "packets"
		}
		if transform != "packets" && transform != "meta" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("transform must be packets or meta")
			return
		}

		sub := dbpkg.ModuleSubscription{
			ServerID:  srv.ID,
			Name:      req.Name,
			BaseURL:   req.BaseURL,
			Enabled:   enabled,
			Transform: transform,
		}
		if err := dbpkg.UpsertSubscription(db, &sub); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to register module")
			return
		}

		writeJSON(ctx, fasthttp.StatusOK, subscriptionView(&sub))
	}
}

// ListModules lists a server's module subscriptions with health fields.
func ListModules(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		srv, ok := serverFromPath(ctx, db)
		if !ok {
			return
		}

		subs, err := dbpkg.ListSubscriptions(db, srv.ID)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("database error")
			return
		}

		views := make([]map[string]any, 0, len(subs))
		for i := range subs {
			views = append(views, subscriptionView(&subs[i]))
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"modules": views})
	}
}

// LinkServerHandler ties a server to the authenticated admin account,
// switching its ingest from waiting_for_registration to accepted.
func LinkServerHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		srv, ok := serverFromPath(ctx, db)
		if !ok {
			return
		}
		acct, ok := httpctx.AccountFromCtx(ctx)
		if !ok {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString("unauthorized")
			return
		}

		if err := dbpkg.LinkServer(db, srv.ID, acct.ID); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to link server")
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"status": "linked",
			"server": srv.ExternalID,
		})
	}
}

func subscriptionView(sub *dbpkg.ModuleSubscription) map[string]any {
	var lastCheck *string
	if sub.LastHealthcheckAt != nil {
		s := sub.LastHealthcheckAt.UTC().Format(time.RFC3339)
		lastCheck = &s
	}
	return map[string]any{
		"name":                 sub.Name,
		"base_url":             sub.BaseURL,
		"enabled":              sub.Enabled,
		"transform":            sub.Transform,
		"last_healthcheck_at":  lastCheck,
		"last_healthcheck_ok":  sub.LastHealthcheckOK,
		"consecutive_failures": sub.ConsecutiveFailures,
		"last_error":           sub.LastError,
	}
}
