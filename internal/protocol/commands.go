package protocol

import "encoding/json"

// Command is a tagged, timestamped mutation to the document. The payload
// fields vary by Type; handlers decode only the ones they need.
type Command struct {
	Type      string          `json:"type"`
	CommandID Id              `json:"commandId"`
	ClientID  Id              `json:"clientId"`
	Timestamp int64           `json:"timestamp"`
	PageID    Id              `json:"pageId,omitempty"`
	ObjectID  Id              `json:"objectId,omitempty"`
	ObjectType string         `json:"objectType,omitempty"` // "node" | "edge"
	Data      json.RawMessage `json:"data,omitempty"`
	PageOrder []Id            `json:"pageOrder,omitempty"`
}

const (
	CmdPageAdd      = "page.add"
	CmdPageDelete   = "page.delete"
	CmdPageModify   = "page.modify"
	CmdPageReorder  = "page.reorder"
	CmdObjectAdd    = "object.add"
	CmdObjectDelete = "object.delete"
	CmdObjectModify = "object.modify"
)

// Cursor is a client's pointer position broadcast in heartbeats.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
