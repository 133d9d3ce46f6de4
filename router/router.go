package router

import (
	"errors"
	"net/http"

	answersHandler "formsave/internal/answers"
	"formsave/internal/answers/repository"
	"formsave/internal/answers/service"
	"formsave/middleware"
	"formsave/socket"

	"github.com/gorilla/mux"
)

func Setup(svc *service.AnswerService, hub *socket.Hub, jwtSecret string) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.TracingMiddleware, middleware.ErrorRecoveryMiddleware)

	r.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	auth := middleware.Auth(jwtSecret)

	// WebSocket
	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(auth)
	ws.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		userID, _ := middleware.UserID(req.Context())
		docID := mux.Vars(req)["id"]
		if _, err := svc.GetDocument(req.Context(), userID, docID); err != nil {
			switch {
			case errors.Is(err, repository.ErrNotFound):
				http.Error(w, "Answer set not found", http.StatusNotFound)
			case errors.Is(err, service.ErrForbidden):
				http.Error(w, "Forbidden", http.StatusForbidden)
			default:
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}
		socket.ServeWs(hub, w, req, userID, docID)
	}).Methods(http.MethodGet)

	// REST API
	h := answersHandler.NewAnswerHandler(svc)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)
	api.HandleFunc("/sessions", h.CreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/answers", h.GetAnswers).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/answers", h.SaveAnswers).Methods(http.MethodPatch)

	return middleware.CORSMiddleware(r)
}
