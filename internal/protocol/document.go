// Package protocol defines the wire envelope, command, and document shapes
// shared by every component. Node and edge payloads stay opaque
// json.RawMessage end to end — the server never interprets them.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Id is an opaque string identifier. It is a plain alias, not a distinct
// type, so it round-trips through encoding/json without custom coercion.
type Id = string

// AppState is the document the server stores for one room. Only the
// fields command handlers touch are named; everything else the client
// sends round-trips through extra untouched.
type AppState struct {
	Version       int                        `json:"-"`
	IdGen         string                     `json:"-"`
	CurrentPageID string                     `json:"-"`
	Pages         []*Page                    `json:"-"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// Page is a named sub-document; nodes and edges are scoped to a page.
type Page struct {
	ID    Id                         `json:"-"`
	Nodes map[Id]json.RawMessage     `json:"-"`
	Edges map[Id]json.RawMessage     `json:"-"`
	Extra map[string]json.RawMessage `json:"-"`
}

// appStateWire is the full on-wire shape used only for marshal/unmarshal;
// AppState keeps the touched fields typed and everything else in Extra.
type appStateWire struct {
	Version       int             `json:"version"`
	IdGen         string          `json:"idGen"`
	CurrentPageID string          `json:"currentPageId"`
	Pages         []json.RawMessage `json:"pages"`
}

func (a *AppState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: decode app state: %w", err)
	}
	var w appStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("protocol: decode app state fields: %w", err)
	}
	a.Version = w.Version
	a.IdGen = w.IdGen
	a.CurrentPageID = w.CurrentPageID
	a.Pages = make([]*Page, 0, len(w.Pages))
	for _, pr := range w.Pages {
		p := &Page{}
		if err := json.Unmarshal(pr, p); err != nil {
			return fmt.Errorf("protocol: decode page: %w", err)
		}
		a.Pages = append(a.Pages, p)
	}
	a.Extra = make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		switch k {
		case "version", "idGen", "currentPageId", "pages":
			continue
		}
		a.Extra[k] = v
	}
	return nil
}

func (a *AppState) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a.Extra)+4)
	for k, v := range a.Extra {
		out[k] = v
	}
	versionJSON, _ := json.Marshal(a.Version)
	idGenJSON, _ := json.Marshal(a.IdGen)
	curPageJSON, _ := json.Marshal(a.CurrentPageID)
	out["version"] = versionJSON
	out["idGen"] = idGenJSON
	out["currentPageId"] = curPageJSON

	pages := make([]json.RawMessage, 0, len(a.Pages))
	for _, p := range a.Pages {
		pb, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode page: %w", err)
		}
		pages = append(pages, pb)
	}
	pagesJSON, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode pages: %w", err)
	}
	out["pages"] = pagesJSON

	return json.Marshal(out)
}

type pageWire struct {
	ID    Id                         `json:"id"`
	Nodes map[Id]json.RawMessage     `json:"nodes"`
	Edges map[Id]json.RawMessage     `json:"edges"`
}

func (p *Page) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: decode page: %w", err)
	}
	var w pageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("protocol: decode page fields: %w", err)
	}
	p.ID = w.ID
	p.Nodes = w.Nodes
	if p.Nodes == nil {
		p.Nodes = map[Id]json.RawMessage{}
	}
	p.Edges = w.Edges
	if p.Edges == nil {
		p.Edges = map[Id]json.RawMessage{}
	}
	p.Extra = make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		switch k {
		case "id", "nodes", "edges":
			continue
		}
		p.Extra[k] = v
	}
	return nil
}

func (p *Page) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	idJSON, _ := json.Marshal(p.ID)
	out["id"] = idJSON
	nodesJSON, err := json.Marshal(p.Nodes)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode nodes: %w", err)
	}
	out["nodes"] = nodesJSON
	edgesJSON, err := json.Marshal(p.Edges)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode edges: %w", err)
	}
	out["edges"] = edgesJSON
	return json.Marshal(out)
}

// Clone performs a deep copy sufficient for determinism checks and for
// handing a snapshot copy to the compression/database layer without
// aliasing the live replica.
func (a *AppState) Clone() *AppState {
	if a == nil {
		return nil
	}
	cp := &AppState{
		Version:       a.Version,
		IdGen:         a.IdGen,
		CurrentPageID: a.CurrentPageID,
		Pages:         make([]*Page, len(a.Pages)),
		Extra:         cloneRawMap(a.Extra),
	}
	for i, p := range a.Pages {
		cp.Pages[i] = p.clone()
	}
	return cp
}

func (p *Page) clone() *Page {
	return &Page{
		ID:    p.ID,
		Nodes: cloneRawMap(p.Nodes),
		Edges: cloneRawMap(p.Edges),
		Extra: cloneRawMap(p.Extra),
	}
}

func cloneRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	cp := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		cp[k] = append(json.RawMessage(nil), v...)
	}
	return cp
}
