package devserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/config"
	"github.com/velora-app/callkit/internal/proto"
)

const contextKeyClaims = "claims"

// Server bundles the REST API and the WebSocket endpoint of the local
// signaling server.
type Server struct {
	auth   *auth.Service
	hub    *Hub
	log    *zerolog.Logger
	router *gin.Engine
	addr   string
}

// New builds a dev server from config.
func New(cfg config.Config, logger *zerolog.Logger) *Server {
	authService := auth.NewService(&auth.JWTConfig{
		Secret: []byte(cfg.DevJWTSecret),
		Issuer: "callkit-devserver",
		TTL:    24 * time.Hour,
	})
	minter := newJoinTokenMinter(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	hub := NewHub(minter, logger)

	s := &Server{
		auth: authService,
		hub:  hub,
		log:  logger,
		addr: cfg.DevAddr,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.POST("/v1/auth/register", s.handleRegister)
	r.POST("/v1/auth/login", s.handleLogin)

	calls := r.Group("/v1/calls", s.authMiddleware())
	calls.POST("", s.handleStartCall)
	calls.POST("/:id/end", s.handleEndCall)

	r.GET("/ws", gin.WrapH(newWSHandler(s.hub, s.auth, s.log)))
	return r
}

// Handler exposes the full route set, mostly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.addr).Msg("dev server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// errorResponse is the uniform error body for REST endpoints.
type errorResponse struct {
	Error string `json:"error"`
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
	FullName string `json:"fullName"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userInfo `json:"user"`
}

type userInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := s.auth.Register(req.Username, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, errorResponse{Error: "user already exists"})
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			s.log.Error().Err(err).Str("username", req.Username).Msg("register failed")
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		}
		return
	}

	s.log.Info().Str("username", req.Username).Int64("user_id", user.ID).Msg("user registered")
	c.JSON(http.StatusCreated, authResponse{
		Token: token,
		User:  userInfo{ID: user.ID, Username: user.Username, FullName: user.FullName},
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
			return
		}
		s.log.Error().Err(err).Str("username", req.Username).Msg("login failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, authResponse{
		Token: token,
		User:  userInfo{ID: user.ID, Username: user.Username, FullName: user.FullName},
	})
}

// authMiddleware validates the bearer token and stores claims in the request
// context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing authorization header"})
			return
		}
		token, ok := cutBearer(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid authorization header format"})
			return
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}
		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func claimsFrom(c *gin.Context) *auth.Claims {
	return c.MustGet(contextKeyClaims).(*auth.Claims)
}

type startCallRequest struct {
	ReceiverID     int64  `json:"receiverId" binding:"required"`
	CallType       string `json:"callType"`
	ConversationID string `json:"conversationId"`
}

type startCallResponse struct {
	CallID string `json:"call_id"`
}

func (s *Server) handleStartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	claims := claimsFrom(c)
	caller := proto.Caller{
		UserID:   claims.UserID,
		FullName: claims.FullName,
		PhotoURL: claims.PhotoURL,
	}
	callID, err := s.hub.StartCall(caller, req.ReceiverID, req.CallType, req.ConversationID)
	if err != nil {
		if errors.Is(err, ErrPeerOffline) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "peer is not connected"})
			return
		}
		s.log.Error().Err(err).Int64("receiver_id", req.ReceiverID).Msg("start call failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, startCallResponse{CallID: callID})
}

func (s *Server) handleEndCall(c *gin.Context) {
	callID := c.Param("id")
	claims := claimsFrom(c)

	if err := s.hub.End(claims.UserID, callID); err != nil {
		switch {
		case errors.Is(err, ErrUnknownCall):
			c.JSON(http.StatusNotFound, errorResponse{Error: "unknown call"})
		case errors.Is(err, ErrNotParty):
			c.JSON(http.StatusForbidden, errorResponse{Error: "not a party to this call"})
		default:
			s.log.Error().Err(err).Str("call_id", callID).Msg("end call failed")
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
