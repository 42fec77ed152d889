package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phototheology/palace/internal/auth"
	"github.com/phototheology/palace/internal/cache"
	"github.com/phototheology/palace/internal/feed"
	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/middleware"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Logger         *logrus.Logger
	Store          store.Store
	Judge          *judge.Judge
	Resolver       *auth.Resolver
	Sessions       *auth.Sessions
	Hasher         auth.Hasher
	Deduper        cache.Deduper
	Hub            *feed.Hub
	AllowedOrigins []string
	TokenExpire    time.Duration
}

// NewRouter wires every route behind request logging and CORS.
func NewRouter(d Deps) http.Handler {
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(d.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"authorization", "x-client-info", "apikey", "content-type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/user/create", CreateUserHandler(d.Logger, d.Store, d.Hasher))
	r.Post("/user/login", LoginHandler(d.Logger, d.Store, d.Sessions, d.Hasher, d.TokenExpire))

	r.Route("/api", func(r chi.Router) {
		r.Post("/judge", JudgeHandler(d.Logger, d.Judge, d.Store, d.Resolver, d.Deduper))
		r.Get("/games/{gameID}", GameStateHandler(d.Logger, d.Store, d.Resolver))
		r.Get("/games/{gameID}/moves", MovesHandler(d.Logger, d.Store, d.Resolver))
		r.Post("/games/{gameID}/pass", PassHandler(d.Logger, d.Judge, d.Store, d.Resolver))
		r.Get("/games/{gameID}/ws", FeedWSHandler(d.Logger, d.Hub, d.Store, d.AllowedOrigins))
	})
	return r
}
