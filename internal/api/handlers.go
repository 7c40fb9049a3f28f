package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/core"
	"gwi.com/docqa/internal/ingest"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	// multipart framing allowance on top of the file size cap
	uploadOverhead = 1 << 20
)

type APIHandler struct {
	chatService     *core.ChatService
	documentService *core.DocumentService
	maxUploadBytes  int64
}

func NewAPIHandler(cs *core.ChatService, ds *core.DocumentService, maxUploadBytes int64) *APIHandler {
	return &APIHandler{chatService: cs, documentService: ds, maxUploadBytes: maxUploadBytes}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrDocumentNotFound), errors.Is(err, core.ErrConversationNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrDocumentNotReady),
		errors.Is(err, core.ErrEmptyMessage),
		errors.Is(err, core.ErrUnsupportedFile),
		errors.Is(err, core.ErrInvalidExtraction):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrFileTooLarge):
		writeDetail(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, core.ErrDocumentBusy):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Document handlers

func (h *APIHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+uploadOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, core.ErrFileTooLarge)
			return
		}
		writeDetail(w, http.StatusBadRequest, "a PDF must be uploaded in the 'file' form field")
		return
	}
	defer file.Close()

	doc, err := h.documentService.Register(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documentService.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *APIHandler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "documentID")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := h.documentService.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *APIHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "documentID")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := h.documentService.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

func (h *APIHandler) SubmitExtractionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "documentID")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid document id")
		return
	}
	var extracted ingest.ExtractedDocument
	if err := json.NewDecoder(r.Body).Decode(&extracted); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	doc, err := h.documentService.SubmitExtraction(r.Context(), id, &extracted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// Chat handlers

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req core.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	resp, err := h.chatService.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		writeDetail(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil || limit < 1 || limit > maxPageLimit {
		writeDetail(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	list, err := h.chatService.ListConversations(r.Context(), skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "conversationID")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	detail, err := h.chatService.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "conversationID")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := h.chatService.DeleteConversation(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
