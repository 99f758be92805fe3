package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/play-tracker/internal/rooms"
	"github.com/DoyleJ11/play-tracker/internal/watch"
	"github.com/DoyleJ11/play-tracker/internal/ws"
)

func SetupRoutes(store rooms.Store, b *watch.Broker, log *zap.Logger, corsOrigins []string) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedOrigins: corsOrigins,
		AllowedHeaders: []string{"*"},
	}).Handler)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/consistency", Consistency)
		r.Post("/create-room", CreateRoom(store, log))
		r.Route("/rooms/{roomId}", func(r chi.Router) {
			r.Get("/", GetRoom(store, log))
			r.Post("/", PutRoom(store, b, log))
			r.Post("/sync", SyncRoom(store, log))
			r.Get("/exists", RoomExists(store, log))
			r.Get("/ws", ws.Handler(store, b, log, corsOrigins))
		})
	})
	return r
}
