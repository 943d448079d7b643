package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dkeye/roomhub/internal/adapters/rtc"
	"github.com/dkeye/roomhub/internal/adapters/signal"
	"github.com/dkeye/roomhub/internal/app/orch"
	"github.com/dkeye/roomhub/internal/config"
	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
)

const (
	sessionName    = "RoomhubSessions"
	clientTokenKey = "ct"
)

// ClientTokenMiddleware gives every browser a stable token kept in the cookie
// session. It only correlates reconnects in logs; it is never a handle.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type roomView struct {
	Name    domain.RoomName `json:"name"`
	Members int             `json:"members"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ice webrtc.Configuration) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no session secret configured, client tokens reset on restart")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": o.Registry.Count()})
	})

	ctrl := signal.NewSignalWSController(o, signal.OptionsFromConfig(cfg))
	r.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c, c.GetString("client_token"))
	})

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		counts := lo.SliceToMap(o.Rooms.List(), func(info core.RoomInfo) (domain.RoomName, int) {
			return info.Name, info.MemberCount
		})
		rooms := lo.Map(o.KnownRooms(c.Request.Context()), func(name domain.RoomName, _ int) roomView {
			return roomView{Name: name, Members: counts[name]}
		})
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})
	iceView := rtc.ForClients(ice)
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceView})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
