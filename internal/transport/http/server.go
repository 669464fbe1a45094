package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/auth"
	"github.com/vovakirdan/chatterly-relay/internal/config"
	"github.com/vovakirdan/chatterly-relay/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	OnlineUsers int       `json:"onlineUsers"`
}

// OnlineUsersResponse lists the users holding at least one connection.
type OnlineUsersResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// NewServer builds an HTTP server with the probe routes and the websocket endpoint.
// The websocket handler is mounted on the mux directly: gin's writer must not
// touch the response before the connection is hijacked.
func NewServer(hub *core.Hub, authenticator *auth.Authenticator, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler(hub))
	router.GET("/online-users", onlineUsersHandler(hub))

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authenticator, cfg, logger))
	mux.Handle("/", router)

	handler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{stdhttp.MethodGet, stdhttp.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})(mux)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			OnlineUsers: hub.Registry().Count(),
		})
	}
}

func onlineUsersHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		users := hub.Registry().OnlineUserIDs()
		c.JSON(stdhttp.StatusOK, OnlineUsersResponse{Count: len(users), Users: users})
	}
}
