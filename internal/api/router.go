package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/filedesk/internal/fileservice"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// AuthEnabled controls whether Bearer token auth is enforced.
	AuthEnabled bool
	Token       string
	// MaxUploadBytes limits POST /files bodies; zero means 50 MB.
	MaxUploadBytes int64
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *fileservice.Service, cfg RouterConfig) chi.Router {
	h := NewHandler(svc, cfg.MaxUploadBytes)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	r.Route("/files", func(r chi.Router) {
		r.Post("/", h.UploadFile)
		r.Get("/{uid}", h.GetFile)
		r.Put("/{uid}", h.UpdateMetadata)
		r.Delete("/{uid}", h.DeleteFile)
		r.Get("/{uid}/content", h.FileContent)
		r.Post("/{uid}/rename", h.RenameFile)
		r.Post("/{uid}/move", h.MoveFile)
	})

	if cfg.Events != nil {
		r.Get("/events", cfg.Events.ServeHTTP)
	}

	return r
}
