package moduleapi

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

func postIngest(t *testing.T, h fasthttp.RequestHandler, req IngestRequest) int {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	var r fasthttp.Request
	r.SetRequestURI("http://module/ingest")
	r.Header.SetMethod(fasthttp.MethodPost)
	r.SetBody(body)

	var ctx fasthttp.RequestCtx
	ctx.Init(&r, nil, nil)
	h(&ctx)
	return ctx.Response.StatusCode()
}

func TestIngestChecksSerializedPerServer(t *testing.T) {
	started := make(chan uint64, 2)
	release := make(chan struct{})
	h := Handler("combat", "1", func(req *IngestRequest) {
		started <- req.BatchID
		<-release
	})

	// Both deliveries are accepted immediately, but the second check must
	// not start while the first is still inside its state window.
	if st := postIngest(t, h, IngestRequest{BatchID: 1, ServerID: "srv-1"}); st != fasthttp.StatusAccepted {
		t.Fatalf("first ingest status = %d", st)
	}
	if got := <-started; got != 1 {
		t.Fatalf("first check ran batch %d", got)
	}

	if st := postIngest(t, h, IngestRequest{BatchID: 2, ServerID: "srv-1"}); st != fasthttp.StatusAccepted {
		t.Fatalf("second ingest status = %d", st)
	}

	select {
	case got := <-started:
		t.Fatalf("batch %d check ran while the previous check was still in flight", got)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case got := <-started:
		if got != 2 {
			t.Fatalf("second check ran batch %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second check never ran")
	}
}

func TestIngestChecksDistinctServersRunInParallel(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})
	h := Handler("combat", "1", func(req *IngestRequest) {
		started <- req.ServerID
		<-release
	})
	defer close(release)

	postIngest(t, h, IngestRequest{BatchID: 1, ServerID: "srv-a"})
	if got := <-started; got != "srv-a" {
		t.Fatalf("first check for server %s", got)
	}

	// srv-a's check is blocked; srv-b must not queue behind it.
	postIngest(t, h, IngestRequest{BatchID: 2, ServerID: "srv-b"})
	select {
	case got := <-started:
		if got != "srv-b" {
			t.Fatalf("expected srv-b check, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("independent server's check blocked behind a busy one")
	}
}

func TestIngestRejectsBadBody(t *testing.T) {
	h := Handler("combat", "1", func(req *IngestRequest) {
		t.Error("check ran for a malformed delivery")
	})

	var r fasthttp.Request
	r.SetRequestURI("http://module/ingest")
	r.Header.SetMethod(fasthttp.MethodPost)
	r.SetBody([]byte("{not json"))

	var ctx fasthttp.RequestCtx
	ctx.Init(&r, nil, nil)
	h(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", ctx.Response.StatusCode())
	}
}
