package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"concord-backend/internal/access"
	"concord-backend/internal/dm"
	"concord-backend/internal/hub"
	"concord-backend/internal/invites"
	"concord-backend/internal/jwt"
	"concord-backend/internal/keyValue"
	"concord-backend/internal/models"
	"concord-backend/internal/uploads"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Handler carries every injected dependency the request handlers need. One
// instance is built per process (tests build their own with isolated state).
type Handler struct {
	sugar    *zap.SugaredLogger
	db       *sql.DB
	hub      *hub.Hub
	kv       *keyValue.Store
	tokens   *jwt.Tokens
	checker  *access.Checker
	dms      *dm.Service
	invites  *invites.Service
	uploads  *uploads.Store
	validate *validator.Validate
}

func New(sugar *zap.SugaredLogger, db *sql.DB, messageHub *hub.Hub, kv *keyValue.Store, tokens *jwt.Tokens, uploadStore *uploads.Store) *Handler {
	return &Handler{
		sugar:    sugar,
		db:       db,
		hub:      messageHub,
		kv:       kv,
		tokens:   tokens,
		checker:  access.New(db),
		dms:      dm.New(sugar, db),
		invites:  invites.New(sugar, db),
		uploads:  uploadStore,
		validate: validator.New(),
	}
}

func (h *Handler) Router(cfg *models.ConfigFile) chi.Router {
	r := chi.NewRouter()

	if cfg.Cors {
		r.Use(AllowCors)
	}
	if cfg.PrintHttpRequests {
		r.Use(middleware.Logger)
	}

	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.With(h.UserVerifier).Get("/isLoggedIn", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		})

		// the invite preview is public so a join page can render before login
		api.Get("/invites/{code}", h.GetInvitePreview)

		api.Group(func(r chi.Router) {
			r.Use(h.UserVerifier)
			// event streams stay open until the client leaves, everything
			// else gets the usual timeout
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))

				r.Route("/servers", func(r chi.Router) {
					r.Post("/", h.CreateServer)
					r.Get("/", h.GetServerList)
					r.Get("/{serverID}", h.GetServer)
					r.Post("/{serverID}/invites", h.CreateInvite)
				})

				r.Post("/channels", h.CreateChannel)
				r.Get("/channels/{channelID}/messages", h.GetChannelMessages)
				r.Post("/channels/{channelID}/messages", h.CreateChannelMessage)

				r.Get("/dm/conversations", h.GetConversations)
				r.Get("/dm/{userID}/messages", h.GetDirectMessages)
				r.Post("/dm/{userID}/messages", h.CreateDirectMessage)

				r.Route("/users", func(r chi.Router) {
					r.Get("/search", h.SearchUsers)
					r.Get("/{userID}", h.GetUserInfo)
					r.Post("/update", h.UpdateUserInfo)
				})

				r.Post("/invites/{code}/join", h.JoinServer)
			})

			r.Get("/channels/{channelID}/events", h.ChannelEvents)
			r.Get("/dm/{userID}/events", h.DirectMessageEvents)
		})
	})

	var websocketPath string
	if cfg.BehindNginx {
		websocketPath = "/ws/"
	} else {
		websocketPath = "/ws"
		r.Handle("/cdn/*", http.StripPrefix("/cdn/", http.FileServer(http.Dir("./public"))))
		r.Handle("/*", http.FileServer(http.Dir("./public/static")))
	}

	r.With(h.UserVerifier).Get(websocketPath, h.HandleWebSocket)

	return r
}

// Setup builds the router and serves until the listener fails.
func (h *Handler) Setup(isHttps bool, cfg *models.ConfigFile) error {
	r := h.Router(cfg)

	address := fmt.Sprintf("%s:%s", cfg.Address, cfg.Port)

	if isHttps {
		return http.ListenAndServeTLS(address, cfg.TlsCert, cfg.TlsKey, r)
	}
	return http.ListenAndServe(address, r)
}
