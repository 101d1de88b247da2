package middleware

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	dbpkg "packetwatch/internal/db"
	httpctx "packetwatch/internal/http/ctx"
)

// BearerAuth validates a static bearer token from config. Used with the
// producer ingest token on /v1/ingest and /v1/handshake and with the module
// callback token on /v1/callbacks/*.
func BearerAuth(token string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if token == "" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("token authentication not configured")
				return
			}

			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid Authorization header")
				return
			}

			if strings.TrimSpace(string(auth[len(prefix):])) != token {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid token")
				return
			}

			next(ctx)
		}
	}
}

// AdminAuth validates HTTP basic credentials against admin accounts. Used
// for the operator endpoints (server linking, module registration).
func AdminAuth(db *gorm.DB) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			auth := string(ctx.Request.Header.Peek("Authorization"))
			const prefix = "Basic "
			if !strings.HasPrefix(auth, prefix) {
				ctx.Response.Header.Set("WWW-Authenticate", `Basic realm="packetwatch"`)
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("missing credentials")
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
			if err != nil {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid credentials")
				return
			}
			username, password, ok := strings.Cut(string(decoded), ":")
			if !ok {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid credentials")
				return
			}

			var acct dbpkg.Account
			if err := db.Where("username = ?", username).First(&acct).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					ctx.SetStatusCode(fasthttp.StatusUnauthorized)
					ctx.SetBodyString("invalid credentials")
					return
				}
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("database error")
				return
			}

			if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid credentials")
				return
			}
			if !acct.IsAdmin {
				ctx.SetStatusCode(fasthttp.StatusForbidden)
				ctx.SetBodyString("admin account required")
				return
			}

			httpctx.SetAccount(ctx, &acct)
			next(ctx)
		}
	}
}
