package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 16 << 20

type handlers struct {
	manager *ctxwin.Manager
}

// SetFileRequest POST /v1/files 的请求体
type SetFileRequest struct {
	Path     string                 `json:"path"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TerminalRequest POST /v1/terminal 的请求体
type TerminalRequest struct {
	ID       string                 `json:"id,omitempty"`
	Command  string                 `json:"command"`
	Output   string                 `json:"output"`
	ExitCode int                    `json:"exit_code"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AssembleRequest POST /v1/assemble 的请求体
type AssembleRequest struct {
	Message string     `json:"message"`
	Role    string     `json:"role,omitempty"`
	Pins    []refs.Ref `json:"pins,omitempty"`
	Intent  string     `json:"intent,omitempty"`
}

// ExpirationsRequest POST /v1/expirations 的请求体，Now 为空时使用当前时间
type ExpirationsRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// currentContext handles GET /v1/context
func (h *handlers) currentContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.CurrentContext())
}

// conversationStatus handles GET /v1/conversation
func (h *handlers) conversationStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.ConversationStatus())
}

// assemble handles POST /v1/assemble
func (h *handlers) assemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	for _, ref := range req.Pins {
		if !ref.Valid() {
			writeError(w, http.StatusBadRequest, "invalid pin: "+string(ref))
			return
		}
	}

	msg := message.NewUserMessage(req.Message)
	if req.Role != "" {
		msg.Role = message.Role(req.Role)
	}

	res, err := h.manager.AssembleContext(r.Context(), msg, ctxwin.AssembleOptions{
		Pins:   req.Pins,
		Intent: req.Intent,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// checkExpirations handles POST /v1/expirations
func (h *handlers) checkExpirations(w http.ResponseWriter, r *http.Request) {
	var req ExpirationsRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	now := h.manager.Now()
	if req.Now != nil {
		now = *req.Now
	}

	expired := h.manager.CheckExpirations(r.Context(), now)
	if expired == nil {
		expired = []refs.Ref{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

// listFiles handles GET /v1/files
func (h *handlers) listFiles(w http.ResponseWriter, r *http.Request) {
	paths := h.manager.Paths()
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": paths})
}

// setFile handles POST /v1/files
func (h *handlers) setFile(w http.ResponseWriter, r *http.Request) {
	var req SetFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	res := h.manager.SetFile(r.Context(), req.Path, req.Content, req.Metadata)
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// getFile handles GET /v1/files/{path} and GET /v1/files/{path}/diff
func (h *handlers) getFile(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	wantDiff := strings.HasSuffix(path, "/diff")
	if wantDiff {
		path = strings.TrimSuffix(path, "/diff")
	}

	rec, ok := h.manager.File(path)
	if !ok {
		writeErr(w, errors.ErrFileNotFound)
		return
	}
	if !wantDiff {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	if !rec.HasHistory() {
		writeError(w, http.StatusNotFound, "no diff for "+path)
		return
	}
	text, err := rec.Diff.Unified(path)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// addTerminal handles POST /v1/terminal
func (h *handlers) addTerminal(w http.ResponseWriter, r *http.Request) {
	var req TerminalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	rec := h.manager.AddTerminalEntry(req.Command, req.Output, store.TerminalMeta{
		ID:       req.ID,
		ExitCode: req.ExitCode,
		Metadata: req.Metadata,
	})
	writeJSON(w, http.StatusCreated, rec)
}

// getTerminal handles GET /v1/terminal/{id}
func (h *handlers) getTerminal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.manager.Terminal(id)
	if !ok {
		writeError(w, http.StatusNotFound, "terminal entry not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// getTask handles GET /v1/tasks/{id}
func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.manager.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// updateTask handles PUT /v1/tasks/{id}
func (h *handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var req store.TaskUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.manager.UpdateTask(chi.URLParam(r, "id"), req))
}

// exportState handles GET /v1/state
func (h *handlers) exportState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.ExportState())
}

// importState handles PUT /v1/state
func (h *handlers) importState(w http.ResponseWriter, r *http.Request) {
	var state ctxwin.State
	if err := decodeJSON(w, r, &state); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.manager.ImportState(state); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr 按错误类别选择状态码
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Classify(err) {
	case errors.KindInvalid:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindUnavailable, errors.KindCanceled:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
