package api

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/evently/eventchat/store"
)

type ApiConfig struct {
	// TokenSecret verifies participant tokens issued by the surrounding
	// platform.
	TokenSecret []byte
	// AllowedOrigins is the CORS allowlist for browser clients.
	AllowedOrigins []string
}

type Api struct {
	mux    *ApiMux
	config ApiConfig
}

func NewApi(chatStore store.ChatStore, config ApiConfig) *Api {
	a := &Api{
		mux:    NewApiMux(),
		config: config,
	}
	a.mountHandlers(chatStore)
	return a
}

func (a *Api) Mux() http.Handler {
	return a.mux
}

func (a *Api) mountHandlers(chatStore store.ChatStore) {
	chatHandler := NewChatHandler(chatStore)

	a.mux.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
	}))

	a.mux.Route("/events/{eventID}/chat", func(r *ApiMux) {
		r.Use(JWTMiddleware(a.config.TokenSecret))

		r.Get("/messages", chatHandler.GetEventMessagesHandler)
		r.Post("/messages", chatHandler.CreateEventMessageHandler)
		r.Get("/messages/section/{section}", chatHandler.GetSectionMessagesHandler)
		r.Post("/messages/read-all", chatHandler.MarkAllReadHandler)

		r.Get("/messages/{messageID}/replies", chatHandler.GetRepliesHandler)
		r.Post("/messages/{messageID}/reactions", chatHandler.AddReactionHandler)
		r.Delete("/messages/{messageID}/reactions", chatHandler.RemoveReactionHandler)
		r.Post("/messages/{messageID}/read", chatHandler.MarkReadHandler)

		r.Get("/unread-count", chatHandler.UnreadCountHandler)

		r.Get("/typing", chatHandler.GetTypingHandler)
		r.Post("/typing", chatHandler.SetTypingHandler)
		r.Delete("/typing", chatHandler.ClearTypingHandler)
	})
}
