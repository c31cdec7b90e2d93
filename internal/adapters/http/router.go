package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/adapters/signal"
	"github.com/openworship/cast/internal/config"
	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/domain"
	"github.com/openworship/cast/internal/repository"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a browser to a stable token; the control
// session resume path depends on it surviving reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, rooms *core.Manager, ctl *signal.Controller, setlists repository.SetlistRepository) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CastSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// List live rooms.
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": rooms.List()})
	})

	// Create a room for the calling controller. Bound to the client token
	// so a later ws control connection resumes the same room.
	api.POST("/rooms", func(c *gin.Context) {
		room, err := ctl.Dispatch.Open(c.GetString("client_token"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"pin": room.Pin()})
	})

	// Room info by pin.
	api.GET("/rooms/:pin", func(c *gin.Context) {
		pin := domain.RoomPin(c.Param("pin"))
		room, ok := rooms.GetRoom(pin)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		c.JSON(http.StatusOK, room.Info())
	})

	// Claim a public handle for a live room.
	api.POST("/rooms/:pin/slug", func(c *gin.Context) {
		var p struct {
			Slug string `json:"slug"`
		}
		if err := c.BindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		pin := domain.RoomPin(c.Param("pin"))
		err := rooms.ClaimSlug(c.Request.Context(), pin, domain.RoomSlug(p.Slug))
		switch {
		case errors.Is(err, domain.ErrBadSlug):
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_slug"})
		case errors.Is(err, core.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		default:
			c.JSON(http.StatusOK, gin.H{"slug": p.Slug})
		}
	})

	// Release a public handle.
	api.DELETE("/slugs/:slug", func(c *gin.Context) {
		if err := rooms.ReleaseSlug(c.Request.Context(), domain.RoomSlug(c.Param("slug"))); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Setlist persistence: create/read/replace, no partial patch.
	api.GET("/setlists", func(c *gin.Context) {
		out, err := setlists.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"setlists": out})
	})

	api.POST("/setlists", func(c *gin.Context) {
		var s domain.Setlist
		if err := c.BindJSON(&s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if err := setlists.Create(c.Request.Context(), &s); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusCreated, s)
	})

	api.GET("/setlists/:id", func(c *gin.Context) {
		s, err := setlists.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrSetlistNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "setlist_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, s)
	})

	api.PUT("/setlists/:id", func(c *gin.Context) {
		var s domain.Setlist
		if err := c.BindJSON(&s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		s.ID = c.Param("id")
		if err := setlists.Replace(c.Request.Context(), &s); err != nil {
			if errors.Is(err, repository.ErrSetlistNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "setlist_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, s)
	})

	api.GET("/ws/subscribe", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws subscribe endpoint hit")
		ctl.HandleSubscribe(ctx, c)
	})

	api.GET("/ws/control", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws control endpoint hit")
		ctl.HandleControl(ctx, c)
	})

	return r
}
