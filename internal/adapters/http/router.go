package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/adapters/signal"
	"github.com/ideastream/huddle/internal/app/orch"
	"github.com/ideastream/huddle/internal/config"
	"github.com/ideastream/huddle/internal/domain"
)

// ClientTokenMiddleware pins a stable token on each browser. The token
// identifies the client across reconnects for logging; peer ids stay
// per-connection.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// internalOnly guards endpoints reserved for the call-management service.
func internalOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Internal-Token") != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if len(cfg.AllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
		r.Use(cors.New(corsCfg))
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "huddle",
		})
	})

	api := r.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Stats())
	})

	ctrl := signal.NewController(o, cfg)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	// The call-management service ends calls administratively; the media
	// core converges on the same teardown as the last peer leaving.
	api.POST("/calls/:id/end", internalOnly(cfg.InternalToken), func(c *gin.Context) {
		var p struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&p)
		if p.Reason == "" {
			p.Reason = "ended by call management"
		}
		if err := o.EndCall(c.Request.Context(), domain.RoomID(c.Param("id")), p.Reason); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return r
}
