// Package httpapi implements the request-response surface described in
// spec.md §6: lobby listing, creation, joining, and mediation start,
// plus a liveness check.
package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"orion/internal/router"
	"orion/internal/session"
)

// Server holds the route handlers for the request-response surface.
// It does not own an *echo.Echo itself — Register binds its routes onto
// one shared with internal/wsserver, since both are HTTP/1.1 surfaces on
// spec.md §6's single `httpPort`.
type Server struct {
	router *router.Router
}

// New constructs a Server over r.
func New(r *router.Router) *Server {
	return &Server{router: r}
}

// Register binds every request-response route onto e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/lobbies", s.handleListLobbies)
	e.POST("/lobbies", s.handleCreateLobby)
	e.POST("/lobbies/:lobbyId/join", s.handleJoinLobby)
	e.POST("/lobbies/:lobbyId/ptp/start", s.handleStartMediation)
	e.GET("/ping", s.handlePing)
	e.GET("/health", s.handleHealth)
}

func (s *Server) handlePing(c echo.Context) error {
	return c.String(http.StatusOK, "pong")
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type lobbyListResponse struct {
	Lobbies []router.LobbySummary `json:"lobbies"`
}

func (s *Server) handleListLobbies(c echo.Context) error {
	return c.JSON(http.StatusOK, lobbyListResponse{Lobbies: s.router.ListPublicLobbies()})
}

func (s *Server) handleCreateLobby(c echo.Context) error {
	var req router.CreateLobbyRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &router.SchemaError{Msg: "malformed request body"})
	}
	resp, err := s.router.CreateLobby(req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleJoinLobby(c echo.Context) error {
	var req router.JoinLobbyRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &router.SchemaError{Msg: "malformed request body"})
	}
	resp, err := s.router.JoinLobby(c.Param("lobbyId"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStartMediation(c echo.Context) error {
	var req router.StartMediationRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &router.SchemaError{Msg: "malformed request body"})
	}
	if err := s.router.StartMediation(c.Param("lobbyId"), req); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// writeError maps a router error to the status code and body shape
// spec.md §6/§7 require: SchemaInvalid and TokenUnknown both surface as
// 400 with a single "error" string; StateConflict surfaces as 409 with
// an "errors" array.
func writeError(c echo.Context, err error) error {
	var schemaErr *router.SchemaError
	if errors.As(err, &schemaErr) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": schemaErr.Msg})
	}
	if errors.Is(err, session.ErrUnknownToken) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown token"})
	}
	var conflictErr *router.ConflictError
	if errors.As(err, &conflictErr) {
		return c.JSON(http.StatusConflict, map[string][]string{"errors": {conflictErr.Error()}})
	}
	log.Printf("[httpapi] unexpected error: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// JSONErrorHandler is Echo's top-level handler for errors that escape a
// route entirely (routing failures, panics recovered by
// middleware.Recover()), matching the teacher's uniform JSON error body.
func JSONErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		c.NoContent(code) //nolint:errcheck
		return
	}
	c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
}
