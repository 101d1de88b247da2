// Package moduleapi defines the wire protocol between the central service
// and detection modules: batch delivery, health probes, the findings
// callback and the state store contract. A conforming module is stateless
// between calls except for what it persists through the state endpoints.
package moduleapi

// Packet is one telemetry event line: a timestamped, direction-tagged
// packet observation with optional player identity and decoded fields.
type Packet struct {
	TS     int64          `json:"ts"` // epoch milliseconds
	Dir    string         `json:"dir"`
	Pkt    string         `json:"pkt"`
	UUID   string         `json:"uuid,omitempty"`
	Name   string         `json:"name,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// BatchMeta is the first line of an ingested NDJSON batch.
type BatchMeta struct {
	ServerID    string `json:"server_id"`
	SessionID   string `json:"session_id"`
	CreatedAtMS int64  `json:"created_at_ms"`
	EventCount  int    `json:"event_count"`
}

// HealthResponse is the body of GET /health on a module.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// IngestRequest is the batch delivery payload (central → module). The
// dispatcher does not block on check completion; modules respond once the
// payload is accepted and run their checks asynchronously, serialized per
// server by the module server.
//
// PlayerStates carries a snapshot of the module's stored state for every
// player appearing in the batch, taken at dispatch time. It is suitable for
// read-only enrichment only: the snapshot may predate the previous batch's
// write-back, so modules that read-modify-write their state must load it
// fresh inside their serialized check window instead.
type IngestRequest struct {
	BatchID      uint64                    `json:"batch_id"`
	ServerID     string                    `json:"server_id"`
	Packets      []Packet                  `json:"packets"`
	PlayerStates map[string]map[string]any `json:"player_states,omitempty"`

	// RawObjectKey is set instead of Packets for subscriptions with the
	// "meta" transform; the module fetches the raw payload itself.
	RawObjectKey string `json:"raw_object_key,omitempty"`
}

// Finding is one detection result (module → central).
type Finding struct {
	PlayerUUID     string  `json:"player_uuid"`
	FeatureID      string  `json:"feature_id"`
	Value          float64 `json:"value"`
	VL             float64 `json:"vl"`
	MaxVL          float64 `json:"max_vl"`
	TimestampMS    int64   `json:"timestamp_ms"`
	Description    string  `json:"description"`
	ShouldMitigate bool    `json:"should_mitigate"`
}

// FindingsRequest is the body of POST /callbacks/findings.
type FindingsRequest struct {
	ServerID string    `json:"server_id"`
	Findings []Finding `json:"findings"`
}

// StateBatchGetRequest asks for the stored state of several players under
// one (server, module) scope.
type StateBatchGetRequest struct {
	ServerID    string   `json:"server_id"`
	ModuleName  string   `json:"module_name"`
	PlayerUUIDs []string `json:"player_uuids"`
}

// StateBatchGetResponse maps player UUID to state blob. Players with no
// stored state are absent.
type StateBatchGetResponse struct {
	States map[string]map[string]any `json:"states"`
}

// StateBatchSetRequest stores state blobs, last write wins per player.
type StateBatchSetRequest struct {
	ServerID   string                    `json:"server_id"`
	ModuleName string                    `json:"module_name"`
	Updates    map[string]map[string]any `json:"updates"`
}

// GlobalStateGetRequest asks for a module's server-global state blob.
type GlobalStateGetRequest struct {
	ServerID   string `json:"server_id"`
	ModuleName string `json:"module_name"`
}

// GlobalStateGetResponse holds the blob, or null when none is stored.
type GlobalStateGetResponse struct {
	State map[string]any `json:"state"`
}

// GlobalStateSetRequest stores the server-global blob, last write wins.
type GlobalStateSetRequest struct {
	ServerID   string         `json:"server_id"`
	ModuleName string         `json:"module_name"`
	State      map[string]any `json:"state"`
}
