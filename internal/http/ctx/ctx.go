package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "packetwatch/internal/db"
)

const (
	ServerKey  = "server"
	AccountKey = "account"
)

func SetServer(ctx *fasthttp.RequestCtx, srv *dbpkg.Server) {
	ctx.SetUserValue(ServerKey, srv)
}

func ServerFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.Server, bool) {
	v := ctx.UserValue(ServerKey)
	if v == nil {
		return nil, false
	}
	srv, ok := v.(*dbpkg.Server)
	return srv, ok
}

func SetAccount(ctx *fasthttp.RequestCtx, acct *dbpkg.Account) {
	ctx.SetUserValue(AccountKey, acct)
}

func AccountFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.Account, bool) {
	v := ctx.UserValue(AccountKey)
	if v == nil {
		return nil, false
	}
	acct, ok := v.(*dbpkg.Account)
	return acct, ok
}
