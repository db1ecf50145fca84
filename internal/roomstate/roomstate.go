// Package roomstate is the in-memory document replica and command
// interpreter. It guards the lifecycle invariants from the data model:
// no command may mutate an uninitialized document, the id counter high
// water mark never decreases, and page.modify is the one command that
// shallow-merges rather than replaces.
package roomstate

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/protocol"
)

// RoomState holds one room's document and dirty-tracking state. Every
// method takes RoomState's own lock, so the command path, heartbeat
// updates and the snapshot pump may call it from different goroutines;
// GetState and ConsumeStateChanges hand out copies, never the live
// document.
type RoomState struct {
	mu          sync.Mutex
	initialized bool
	doc         *protocol.AppState
	dirty       bool
}

func New() *RoomState {
	return &RoomState{}
}

func (s *RoomState) IsStateInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// CanSetState reports whether an upload is currently admissible. Uploads
// are always legal.
func (s *RoomState) CanSetState() bool { return true }

// CanGetState reports whether a download is currently admissible.
func (s *RoomState) CanGetState() bool {
	return s.IsStateInitialized()
}

// SetState replaces the document wholesale, per an upload_state message.
// If the new document carries a lower idGen than the current one, the
// current idGen is kept so the high-water mark never decreases.
func (s *RoomState) SetState(doc *protocol.AppState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized && s.doc != nil && doc != nil {
		cur, _ := strconv.ParseInt(s.doc.IdGen, 10, 64)
		in, err := strconv.ParseInt(doc.IdGen, 10, 64)
		if err == nil && cur > in {
			doc.IdGen = s.doc.IdGen
		}
	}
	s.doc = doc
	s.initialized = true
	s.dirty = true
}

// GetState returns a copy of the current document. Callers must have checked
// CanGetState; calling while uninitialized is an internal error since it
// means a caller skipped that check.
func (s *RoomState) GetState() (*protocol.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, &errs.Error{Kind: errs.KindInternal, Message: "getState called before initialization"}
	}
	return s.doc.Clone(), nil
}

// ConsumeStateChanges returns a copy of the current document and whether
// it has mutated since the previous call, then clears the dirty flag.
func (s *RoomState) ConsumeStateChanges() (doc *protocol.AppState, hasChanged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hasChanged = s.dirty
	s.dirty = false
	return s.doc.Clone(), hasChanged
}

// UpdateIdCounter sets the document's idGen to max(current, incoming) so
// the value returned by GetIdCounter is non-decreasing across a room's
// lifetime, even under interleaved heartbeats, rather than simply
// storing whatever arrives last.
func (s *RoomState) UpdateIdCounter(incoming string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return
	}
	cur, _ := strconv.ParseInt(s.doc.IdGen, 10, 64)
	in, err := strconv.ParseInt(incoming, 10, 64)
	if err != nil {
		return
	}
	if in > cur {
		s.doc.IdGen = incoming
	}
	s.dirty = true
}

func (s *RoomState) GetIdCounter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "0"
	}
	return s.doc.IdGen
}

// ApplyCommand dispatches a single command onto the live document.
// Unknown types fail with invalid_message.
func (s *RoomState) ApplyCommand(cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Type {
	case protocol.CmdPageAdd:
		return s.applyPageAdd(cmd)
	case protocol.CmdPageDelete:
		return s.applyPageDelete(cmd)
	case protocol.CmdPageModify:
		return s.applyPageModify(cmd)
	case protocol.CmdPageReorder:
		return s.applyPageReorder(cmd)
	case protocol.CmdObjectAdd:
		return s.applyObjectAdd(cmd)
	case protocol.CmdObjectDelete:
		return s.applyObjectDelete(cmd)
	case protocol.CmdObjectModify:
		return s.applyObjectModify(cmd)
	default:
		return &errs.Error{
			Kind:    errs.KindInvalidMessage,
			Message: "unknown command type",
			Context: map[string]any{"type": cmd.Type},
		}
	}
}

// ApplyCommands applies each command in order, then marks dirty if the
// batch was non-empty. Fails wholesale with state_not_initialized if no
// document has ever been uploaded.
func (s *RoomState) ApplyCommands(cmds []protocol.Command) error {
	if !s.IsStateInitialized() {
		return &errs.Error{Kind: errs.KindStateNotInitialized, Message: "cannot apply commands before state is initialized"}
	}
	for _, c := range cmds {
		if err := s.ApplyCommand(c); err != nil {
			return err
		}
	}
	if len(cmds) > 0 {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
	}
	return nil
}

func (s *RoomState) findPage(pageID protocol.Id) *protocol.Page {
	for _, p := range s.doc.Pages {
		if p.ID == pageID {
			return p
		}
	}
	return nil
}

func (s *RoomState) applyPageAdd(cmd protocol.Command) error {
	page := &protocol.Page{}
	if err := json.Unmarshal(cmd.Data, page); err != nil {
		return &errs.Error{Kind: errs.KindInvalidMessage, Message: "page.add: bad page data", Cause: err}
	}
	s.doc.Pages = append(s.doc.Pages, page)
	return nil
}

func (s *RoomState) applyPageDelete(cmd protocol.Command) error {
	for i, p := range s.doc.Pages {
		if p.ID == cmd.PageID {
			s.doc.Pages = append(s.doc.Pages[:i], s.doc.Pages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *RoomState) applyPageModify(cmd protocol.Command) error {
	page := s.findPage(cmd.PageID)
	if page == nil {
		return nil
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(cmd.Data, &patch); err != nil {
		return &errs.Error{Kind: errs.KindInvalidMessage, Message: "page.modify: bad data", Cause: err}
	}
	for k, v := range patch {
		switch k {
		case "id":
			continue
		case "nodes":
			var nodes map[protocol.Id]json.RawMessage
			if err := json.Unmarshal(v, &nodes); err == nil {
				page.Nodes = nodes
			}
		case "edges":
			var edges map[protocol.Id]json.RawMessage
			if err := json.Unmarshal(v, &edges); err == nil {
				page.Edges = edges
			}
		default:
			page.Extra[k] = v
		}
	}
	return nil
}

func (s *RoomState) applyPageReorder(cmd protocol.Command) error {
	byID := make(map[protocol.Id]*protocol.Page, len(s.doc.Pages))
	for _, p := range s.doc.Pages {
		byID[p.ID] = p
	}
	used := make(map[protocol.Id]bool, len(s.doc.Pages))

	ordered := make([]*protocol.Page, 0, len(s.doc.Pages))
	for _, id := range cmd.PageOrder {
		if p, ok := byID[id]; ok && !used[id] {
			ordered = append(ordered, p)
			used[id] = true
		}
	}
	for _, p := range s.doc.Pages {
		if !used[p.ID] {
			ordered = append(ordered, p)
		}
	}
	s.doc.Pages = ordered
	return nil
}

func (s *RoomState) applyObjectAdd(cmd protocol.Command) error {
	page := s.findPage(cmd.PageID)
	if page == nil {
		return &errs.Error{
			Kind:    errs.KindInvalidMessage,
			Message: "object.add: page not found",
			Context: map[string]any{"pageId": cmd.PageID},
		}
	}
	switch cmd.ObjectType {
	case "node":
		page.Nodes[cmd.ObjectID] = cmd.Data
	case "edge":
		page.Edges[cmd.ObjectID] = cmd.Data
	default:
		return &errs.Error{
			Kind:    errs.KindInvalidMessage,
			Message: "object.add: unknown objectType",
			Context: map[string]any{"objectType": cmd.ObjectType},
		}
	}
	return nil
}

func (s *RoomState) applyObjectDelete(cmd protocol.Command) error {
	page := s.findPage(cmd.PageID)
	if page == nil {
		return nil
	}
	delete(page.Nodes, cmd.ObjectID)
	delete(page.Edges, cmd.ObjectID)
	return nil
}

func (s *RoomState) applyObjectModify(cmd protocol.Command) error {
	page := s.findPage(cmd.PageID)
	if page == nil {
		return nil
	}
	if _, ok := page.Nodes[cmd.ObjectID]; ok {
		page.Nodes[cmd.ObjectID] = cmd.Data
		return nil
	}
	if _, ok := page.Edges[cmd.ObjectID]; ok {
		page.Edges[cmd.ObjectID] = cmd.Data
		return nil
	}
	return nil
}
