package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nomanoma121/minecraft-discord-bot/internal/api/handlers"
	"github.com/nomanoma121/minecraft-discord-bot/internal/auth"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
	"github.com/nomanoma121/minecraft-discord-bot/internal/websocket"
)

// Services bundles what the router exposes.
type Services struct {
	Servers services.ServerServiceProvider
	Backups services.BackupServiceProvider
	Events  services.EventServiceProvider
}

// NewRouter creates and configures a new Chi router.
func NewRouter(cfg *config.Config, hub *websocket.Hub, svc Services) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	serverHandler := handlers.NewServerHandler(svc.Servers)
	playerHandler := handlers.NewPlayerHandler(svc.Servers)
	backupHandler := handlers.NewBackupHandler(svc.Backups)
	eventHandler := handlers.NewEventHandler(svc.Events)
	wsHandler := handlers.NewWebSocketHandler(hub, cfg.CORSOrigins)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))

		r.Get("/ws", wsHandler.Serve)
		r.Get("/events", eventHandler.GetRecent)

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", serverHandler.GetAll)
			r.Post("/", serverHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", serverHandler.Get)
				r.Patch("/", serverHandler.Update)
				r.Delete("/", serverHandler.Delete)
				r.Post("/start", serverHandler.Start)
				r.Post("/stop", serverHandler.Stop)
				r.Put("/icon", serverHandler.SetIcon)

				r.Route("/backups", func(r chi.Router) {
					r.Get("/", backupHandler.GetAllForServer)
					r.Post("/", backupHandler.Create)
					r.Post("/{stamp}/restore", backupHandler.Restore)
					r.Delete("/{stamp}", backupHandler.Delete)
				})

				r.Route("/ops", func(r chi.Router) {
					r.Get("/", playerHandler.ListOperators)
					r.Post("/", playerHandler.AddOperator)
					r.Delete("/{player}", playerHandler.RemoveOperator)
				})

				r.Route("/whitelist", func(r chi.Router) {
					r.Get("/", playerHandler.ListWhitelist)
					r.Post("/", playerHandler.AddToWhitelist)
					r.Put("/enabled", playerHandler.SetWhitelistEnabled)
					r.Delete("/{player}", playerHandler.RemoveFromWhitelist)
				})
			})
		})
	})

	return r
}
