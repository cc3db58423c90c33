package server

import (
	"net/http"
	"strconv"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/pkg/types"
)

// SessionResponse is returned by GET /session.
type SessionResponse struct {
	State  agent.State `json:"state"`
	Stats  agent.Stats `json:"stats"`
	LeafID string      `json:"leafId,omitempty"`
}

// TreeResponse is returned by GET /session/tree.
type TreeResponse struct {
	LeafID string              `json:"leafId,omitempty"`
	Roots  []*session.TreeNode `json:"roots"`
}

// SessionInfo describes one session file.
type SessionInfo struct {
	Path         string `json:"path"`
	ID           string `json:"id"`
	Cwd          string `json:"cwd"`
	Created      string `json:"created"`
	Modified     string `json:"modified"`
	MessageCount int    `json:"messageCount"`
	FirstMessage string `json:"firstMessage"`
}

// PromptRequest is the body of POST /session/prompt, /steer and /follow-up.
type PromptRequest struct {
	Text   string               `json:"text"`
	Images []types.ImageContent `json:"images,omitempty"`
}

// PromptResponse is returned by POST /session/prompt.
type PromptResponse struct {
	Accepted bool   `json:"accepted"`
	Text     string `json:"text,omitempty"`
}

// CompactRequest is the body of POST /session/compact.
type CompactRequest struct {
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// LabelRequest is the body of POST /session/label. A nil label clears it.
type LabelRequest struct {
	EntryID string  `json:"entryId"`
	Label   *string `json:"label"`
}

// BranchRequest is the body of POST /session/branch.
type BranchRequest struct {
	EntryID string `json:"entryId"`
}

// NavigateRequest is the body of POST /session/navigate.
type NavigateRequest struct {
	TargetID           string `json:"targetId"`
	Summarize          bool   `json:"summarize,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// SwitchRequest is the body of POST /session/switch.
type SwitchRequest struct {
	Path string `json:"path"`
}

// getSession handles GET /session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{
		State:  s.engine.State(),
		Stats:  s.engine.Stats(),
		LeafID: s.engine.Session().LeafID(),
	})
}

// getMessages handles GET /session/messages
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.Messages(s.engine.Messages()))
}

// getTree handles GET /session/tree
func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	store := s.engine.Session()
	roots := store.Tree()
	if roots == nil {
		roots = []*session.TreeNode{}
	}
	writeJSON(w, http.StatusOK, TreeResponse{LeafID: store.LeafID(), Roots: roots})
}

// listSessions handles GET /session/list
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	out := []SessionInfo{}
	if s.config.SessionDir == "" {
		writeJSON(w, http.StatusOK, out)
		return
	}
	infos, err := session.List(s.config.SessionDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	for _, info := range infos {
		out = append(out, SessionInfo(info))
	}
	writeJSON(w, http.StatusOK, out)
}

// newSession handles POST /session/new
func (s *Server) newSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.NewSession(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

// switchSession handles POST /session/switch
func (s *Server) switchSession(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path is required")
		return
	}
	if err := s.engine.SwitchSession(r.Context(), req.Path); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

// prompt handles POST /session/prompt
//
// The run continues in the background; with ?wait=true the handler blocks
// until the engine is idle and returns the final assistant text.
func (s *Server) prompt(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" && len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	req.Text = s.templates.Expand(req.Text)
	if err := s.engine.PromptMessage(r.Context(), userMessage(req)); err != nil {
		writeEngineError(w, err)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, PromptResponse{Accepted: true})
		return
	}
	if err := s.engine.Wait(r.Context()); err != nil {
		// Client went away; the run keeps going.
		return
	}
	writeJSON(w, http.StatusOK, PromptResponse{Accepted: true, Text: s.engine.LastAssistantText()})
}

func userMessage(req PromptRequest) *types.UserMessage {
	if len(req.Images) == 0 {
		return types.NewUserMessage(req.Text)
	}
	blocks := types.Content{}
	if req.Text != "" {
		blocks = append(blocks, types.Text(req.Text))
	}
	for i := range req.Images {
		img := req.Images[i]
		blocks = append(blocks, &img)
	}
	return &types.UserMessage{Content: types.MessageContent{Blocks: blocks}}
}

// steer handles POST /session/steer
func (s *Server) steer(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}
	s.engine.Steer(s.templates.Expand(req.Text))
	writeSuccess(w)
}

// followUp handles POST /session/follow-up
func (s *Server) followUp(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}
	s.engine.FollowUp(s.templates.Expand(req.Text))
	writeSuccess(w)
}

// abort handles POST /session/abort
func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	s.engine.Abort()
	if err := s.engine.Wait(r.Context()); err != nil {
		return
	}
	writeSuccess(w)
}

// compact handles POST /session/compact
func (s *Server) compact(w http.ResponseWriter, r *http.Request) {
	var req CompactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.CompactWith(r.Context(), req.CustomInstructions)
	if s.metrics != nil {
		s.metrics.ObserveManualCompaction(err)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// label handles POST /session/label
func (s *Server) label(w http.ResponseWriter, r *http.Request) {
	var req LabelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EntryID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "entryId is required")
		return
	}
	id, err := s.engine.Session().AppendLabelChange(req.EntryID, req.Label)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// branch handles POST /session/branch
func (s *Server) branch(w http.ResponseWriter, r *http.Request) {
	var req BranchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text, err := s.engine.Branch(req.EntryID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"selectedText": text,
		"state":        s.engine.State(),
	})
}

// navigate handles POST /session/navigate
func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "targetId is required")
		return
	}
	res, err := s.engine.NavigateTree(r.Context(), req.TargetID, agent.NavigateOptions{
		Summarize:          req.Summarize,
		CustomInstructions: req.CustomInstructions,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
