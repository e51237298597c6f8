package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
	"github.com/satriahrh/ditado/internal/auth"
	"github.com/satriahrh/ditado/internal/websocket"
	"github.com/satriahrh/ditado/usecase"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200

	clientIDKey = "client_id"
)

// Service is the workflow surface behind the HTTP API
type Service interface {
	websocket.Controller
	History(ctx context.Context, limit int) ([]*entities.WorkflowRecord, error)
	Workflow(ctx context.Context, id string) (*entities.WorkflowRecord, error)
}

// Deps groups what the routes need. Issuer is nil when authentication is
// disabled; MetricsHandler is nil when metrics are off.
type Deps struct {
	Service        Service
	Hub            *websocket.Hub
	Issuer         *auth.Issuer
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

type handler struct {
	Deps
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps) {
	h := &handler{Deps: deps}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "ditado",
		})
	})

	if deps.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(deps.MetricsHandler))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)

	protected := v1.Group("", h.requireToken)
	protected.POST("/record/toggle", h.toggleRecord)
	protected.POST("/synthesize", h.synthesize)
	protected.POST("/workflow/cancel", h.cancel)
	protected.GET("/state", h.state)
	protected.GET("/history", h.history)
	protected.GET("/history/:id", h.workflow)

	e.GET("/ws", h.handleWebSocket, h.requireToken)
}

func (h *handler) issueToken(c echo.Context) error {
	if h.Issuer == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Authentication is not enabled",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		h.Logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.ClientID == "" || req.ClientSecret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Client id and secret are required",
		})
	}

	token, expiresAt, err := h.Issuer.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		h.Logger.Warn("Client authentication failed",
			zap.String("client_id", req.ClientID),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid client credentials",
		})
	}

	h.Logger.Info("Client authenticated successfully", zap.String("client_id", req.ClientID))

	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  req.ClientID,
	})
}

// requireToken checks the bearer token when authentication is enabled.
// Websocket clients that cannot set headers may pass ?token= instead.
func (h *handler) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.Issuer == nil {
			return next(c)
		}

		var token string
		authHeader := c.Request().Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			token = c.QueryParam("token")
		}

		if token == "" {
			h.Logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.Issuer.ValidateToken(token)
		if err != nil {
			h.Logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		c.Set(clientIDKey, claims.ClientID)
		return next(c)
	}
}

func clientID(c echo.Context) string {
	id, _ := c.Get(clientIDKey).(string)
	return id
}

func (h *handler) toggleRecord(c echo.Context) error {
	result, err := h.Service.ToggleRecord(c.Request().Context())
	if err != nil {
		var workflow interface{}
		if result != nil && result.Workflow != nil {
			workflow = result.Workflow
		}
		return h.workflowError(c, err, workflow)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *handler) synthesize(c echo.Context) error {
	var req SynthesizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	record, err := h.Service.Synthesize(c.Request().Context(), req.Text)
	if err != nil {
		var workflow interface{}
		if record != nil {
			workflow = record
		}
		return h.workflowError(c, err, workflow)
	}
	return c.JSON(http.StatusOK, record)
}

func (h *handler) cancel(c echo.Context) error {
	cancelled := h.Service.Cancel()
	h.Logger.Info("Cancel requested",
		zap.String("client_id", clientID(c)),
		zap.Bool("cancelled", cancelled))
	return c.JSON(http.StatusOK, CancelResponse{
		Cancelled: cancelled,
		State:     h.Service.State(),
	})
}

func (h *handler) state(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Service.State())
}

func (h *handler) history(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.Service.History(c.Request().Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list history", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list workflow history",
		})
	}
	if records == nil {
		records = []*entities.WorkflowRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (h *handler) workflow(c echo.Context) error {
	record, err := h.Service.Workflow(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Workflow not found",
		})
	}
	if err != nil {
		h.Logger.Error("Failed to load workflow", zap.String("id", c.Param("id")), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load workflow",
		})
	}
	return c.JSON(http.StatusOK, record)
}

func (h *handler) handleWebSocket(c echo.Context) error {
	return websocket.HandleWebSocket(h.Hub, c, clientID(c), h.Logger)
}

func (h *handler) workflowError(c echo.Context, err error, workflow interface{}) error {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Workflow request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		h.Logger.Warn("Workflow request rejected", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{
		Error:    code,
		Message:  err.Error(),
		Workflow: workflow,
	})
}

// errorStatus maps a workflow failure to an HTTP status and error code
func errorStatus(err error) (int, string) {
	if errors.Is(err, usecase.ErrEmptyText) {
		return http.StatusBadRequest, "empty_text"
	}

	if domain.IsTimeout(err) {
		return http.StatusGatewayTimeout, "timeout"
	}

	kind := domain.KindOf(err)
	switch kind {
	case domain.KindInvalidTransition, domain.KindCancelled:
		return http.StatusConflict, string(kind)
	case domain.KindNetwork, domain.KindAuth, domain.KindProtocol:
		return http.StatusBadGateway, string(kind)
	case domain.KindDeviceIO:
		return http.StatusInternalServerError, string(kind)
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
