package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"formsave/internal/answers/model"
	"formsave/internal/answers/repository"
	"formsave/internal/answers/service"
	"formsave/middleware"
	"formsave/pkg/logger"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// saveBody is the decoded save request. ClientVersion is a pointer so a
// missing version is rejected instead of read as 0.
type saveBody struct {
	Answers       model.Answers `json:"answers"`
	ClientVersion *int64        `json:"clientVersion"`
}

type AnswerHandler struct {
	Service *service.AnswerService
}

func NewAnswerHandler(service *service.AnswerService) *AnswerHandler {
	return &AnswerHandler{Service: service}
}

func (h *AnswerHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req model.CreateDocRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	doc, err := h.Service.CreateDocument(r.Context(), userID, req.Answers)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create answer set: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create answer set")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *AnswerHandler) GetAnswers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	docID := mux.Vars(r)["id"]

	doc, err := h.Service.GetDocument(r.Context(), userID, docID)
	if err != nil {
		h.writeServiceError(w, docID, err, "Failed to load answers")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// SaveAnswers is the save RPC: 200 with the new version, 409 with the
// current state when clientVersion is stale, {message} otherwise.
func (h *AnswerHandler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	docID := mux.Vars(r)["id"]

	var body saveBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ClientVersion == nil {
		writeError(w, http.StatusBadRequest, "clientVersion is required")
		return
	}
	req := model.SaveRequest{Answers: body.Answers, ClientVersion: *body.ClientVersion}

	result, err := h.Service.SaveAnswers(r.Context(), userID, docID, req)
	if err != nil {
		h.writeServiceError(w, docID, err, "Failed to save answers")
		return
	}

	if result.Conflict != nil {
		writeJSON(w, http.StatusConflict, model.ConflictResponse{Conflict: true, Latest: *result.Conflict})
		return
	}
	writeJSON(w, http.StatusOK, model.SaveResponse{OK: true, NewVersion: result.Document.Version})
}

func (h *AnswerHandler) writeServiceError(w http.ResponseWriter, docID string, err error, failure string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "Answer set not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "You do not have access to this answer set")
	default:
		logger.Sugar.Errorf("Handler: answer set %s: %v", docID, err)
		writeError(w, http.StatusInternalServerError, failure)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{Message: message})
}
