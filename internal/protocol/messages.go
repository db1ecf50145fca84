package protocol

import "encoding/json"

// Envelope is the minimal shape every inbound frame is first decoded into
// so the server can dispatch on Type before decoding the rest.
type Envelope struct {
	Type string `json:"type"`
}

// CompressedPayload is the envelope used for upload_state.stateData and
// for snapshot blobs in storage.
type CompressedPayload struct {
	Method string `json:"method"`
	Data   []byte `json:"data"`
}

// --- client -> server frames ---

type CreateRoomMsg struct {
	Type                   string `json:"type"`
	ServerProtocolVersion  int    `json:"serverProtocolVersion"`
}

type JoinRoomMsg struct {
	Type                  string `json:"type"`
	RoomID                Id     `json:"roomId"`
	ServerProtocolVersion int    `json:"serverProtocolVersion"`
	Intent                string `json:"intent"` // "download" | "upload"
}

type CommandBatchMsg struct {
	Type     string    `json:"type"`
	Commands []Command `json:"commands"`
}

type HeartbeatMsg struct {
	Type           string `json:"type"`
	Cursor         Cursor `json:"cursor"`
	LocalIdCounter string `json:"localIdCounter"`
}

type UploadStateMsg struct {
	Type      string            `json:"type"`
	StateData CompressedPayload `json:"stateData"`
}

// --- server -> client frames ---

type RoomSummary struct {
	RoomID Id `json:"roomId"`
}

type WelcomeMsg struct {
	Type                  string        `json:"type"`
	ServerProtocolVersion int           `json:"serverProtocolVersion"`
	AvailableRooms        []RoomSummary `json:"availableRooms,omitempty"`
}

type RoomJoinedMsg struct {
	Type      string             `json:"type"`
	RoomID    Id                 `json:"roomId"`
	ClientID  Id                 `json:"clientId"`
	StateData *CompressedPayload `json:"stateData,omitempty"`
}

type CommandBatchOutMsg struct {
	Type     string    `json:"type"`
	Commands []Command `json:"commands"`
}

type ClientPresence struct {
	ClientID Id     `json:"clientId"`
	Cursor   Cursor `json:"cursor"`
}

type HeartbeatResponseMsg struct {
	Type             string           `json:"type"`
	Clients          []ClientPresence `json:"clients"`
	HighestIdCounter string           `json:"highestIdCounter"`
}

type StateSnapshotMsg struct {
	Type      string            `json:"type"`
	StateData CompressedPayload `json:"stateData"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DecodeEnvelope reports the frame's discriminator without decoding the
// rest of its payload.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}
