package handlers

import (
	"net/http"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/middleware"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services the HTTP surface is built on
type Dependencies struct {
	Sessions      *services.SessionService
	Users         *UserHandler
	Matches       *MatchHandler
	Conversations *ConversationHandler
	Photos        *PhotoHandler // nil disables profile image uploads
	WebSocket     *WebSocketHandler
}

// NewRouter wires every route
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", deps.Users.CreateUser)
		r.Post("/sessions", deps.Users.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(deps.Sessions))

			r.Delete("/sessions", deps.Users.Logout)
			r.Get("/users", deps.Users.GetUsers)
			r.Get("/users/{id}", deps.Users.GetUser)
			r.Post("/push-token", deps.Users.RegisterPushToken)

			r.Get("/candidates", deps.Matches.Candidates)
			r.Post("/swipes", deps.Matches.Swipe)
			r.Delete("/swipes", deps.Matches.UndoSwipe)
			r.Get("/matches", deps.Matches.Matches)
			r.Delete("/matches/{user_id}", deps.Matches.Unmatch)

			r.Get("/conversations", deps.Conversations.List)
			r.Post("/conversations", deps.Conversations.Start)
			r.Delete("/conversations/{id}", deps.Conversations.Delete)
			r.Get("/conversations/{id}/messages", deps.Conversations.Messages)
			r.Post("/conversations/{id}/messages", deps.Conversations.Send)
			r.Post("/conversations/{id}/messages/{messageID}/read", deps.Conversations.MarkRead)

			if deps.Photos != nil {
				r.Post("/photos/upload", deps.Photos.UploadPhoto)
			}
		})
	})

	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket.HandleWebSocket)
	}
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
