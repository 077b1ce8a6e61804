package httpapi

import (
	"net/http"

	"aksara/backend/internal/logging"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(deps Deps) http.Handler {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(logging.Middleware(deps.Logger)...)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Test-Email", "X-Test-Google-Sub", "X-Test-Name"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(p chi.Router) {
		p.Use(h.RequireIdentity)

		p.Get("/auth/me", h.AuthMe)

		p.With(h.RateLimit).Post("/chat/stream", h.ChatStream)
		p.With(h.RateLimit).Post("/chat", h.Chat)

		p.Route("/conversations", func(c chi.Router) {
			c.Get("/", h.ListConversations)
			c.Post("/", h.CreateConversation)
			c.Delete("/", h.DeleteAllConversations)
			c.Get("/{id}", h.GetConversation)
			c.Put("/{id}", h.UpdateConversation)
			c.Delete("/{id}", h.DeleteConversation)
			c.Post("/{id}/messages", h.AddMessage)
			c.With(h.RateLimit).Post("/{id}/title", h.GenerateTitle)
		})

		p.Post("/parse-document", h.ParseDocument)
	})

	return r
}
