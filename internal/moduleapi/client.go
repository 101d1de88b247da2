package moduleapi

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// Client talks to the central service's /v1/callbacks endpoints on behalf
// of a detection module. All calls carry the shared callback token and a
// bounded timeout; a failed call surfaces as an error and the module — not
// the store — decides whether to proceed with empty state or skip scoring.
type Client struct {
	// BaseURL of the central service, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Token is the module callback bearer token (distinct from the
	// producer ingest token).
	Token string

	Timeout time.Duration

	httpc *fasthttp.Client
}

// NewClient creates a callback client with the given timeout (zero means
// 5s).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: timeout,
		httpc:   &fasthttp.Client{},
	}
}

// BatchGet implements the player state load half of the state store
// contract.
func (c *Client) BatchGet(serverID, moduleName string, playerUUIDs []string) (map[string]map[string]any, error) {
	req := StateBatchGetRequest{ServerID: serverID, ModuleName: moduleName, PlayerUUIDs: playerUUIDs}
	var resp StateBatchGetResponse
	if err := c.post("/v1/callbacks/player-states/batch-get", req, &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

// BatchSet stores player state blobs, last write wins. Callers own
// read-modify-write correctness; see the dispatcher's per-key sequencing.
func (c *Client) BatchSet(serverID, moduleName string, updates map[string]map[string]any) error {
	req := StateBatchSetRequest{ServerID: serverID, ModuleName: moduleName, Updates: updates}
	return c.post("/v1/callbacks/player-states/batch-set", req, nil)
}

// GlobalGet loads the module's server-global state blob (nil when unset).
func (c *Client) GlobalGet(serverID, moduleName string) (map[string]any, error) {
	req := GlobalStateGetRequest{ServerID: serverID, ModuleName: moduleName}
	var resp GlobalStateGetResponse
	if err := c.post("/v1/callbacks/global-state/get", req, &resp); err != nil {
		return nil, err
	}
	return resp.State, nil
}

// GlobalSet stores the module's server-global state blob.
func (c *Client) GlobalSet(serverID, moduleName string, state map[string]any) error {
	req := GlobalStateSetRequest{ServerID: serverID, ModuleName: moduleName, State: state}
	return c.post("/v1/callbacks/global-state/set", req, nil)
}

// PushFindings reports detection results to the central aggregator.
func (c *Client) PushFindings(serverID string, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	req := FindingsRequest{ServerID: serverID, Findings: findings}
	return c.post("/v1/callbacks/findings", req, nil)
}

func (c *Client) post(path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.SetBody(body)

	if err := c.httpc.DoTimeout(req, resp, c.Timeout); err != nil {
		return fmt.Errorf("callback %s: %w", path, err)
	}
	if sc := resp.StatusCode(); sc < 200 || sc > 299 {
		return fmt.Errorf("callback %s: status %d", path, sc)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("callback %s: decode response: %w", path, err)
		}
	}
	return nil
}
