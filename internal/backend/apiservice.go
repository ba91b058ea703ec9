package backend

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/photoqueue/internal/backend/database"
	"github.com/jo-hoe/photoqueue/internal/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const HealthPath = "/health"

type APIService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

type uploadRequest struct {
	Payload string `json:"payload"`
	// DataURL is the field name older clients send.
	DataURL   string `json:"dataUrl"`
	CreatedAt int64  `json:"createdAt"`
}

type uploadResponse struct {
	OK       bool   `json:"ok"`
	Filename string `json:"filename"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
		config:      config,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET(HealthPath, s.healthHandler)

	api := e.Group("/api", middleware.BodyLimit(s.config.BodyLimit))
	api.GET("/vapidPublicKey", s.vapidPublicKeyHandler)
	api.POST("/subscribe", s.subscribeHandler)
	api.POST("/upload", s.uploadHandler)
}

func (s *APIService) healthHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *APIService) vapidPublicKeyHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, publicKeyResponse{PublicKey: s.coreService.VAPIDPublicKey()})
}

func (s *APIService) subscribeHandler(ctx echo.Context) error {
	var sub database.Subscription
	if err := ctx.Bind(&sub); err != nil {
		slog.Warn("subscribeHandler: failed to bind body", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid subscription."})
	}
	if err := ctx.Validate(&sub); err != nil {
		slog.Warn("subscribeHandler: invalid subscription", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid subscription."})
	}

	if err := s.coreService.Subscribe(ctx.Request().Context(), sub); err != nil {
		if errors.Is(err, core.ErrInvalidSubscription) {
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid subscription."})
		}
		slog.Error("subscribeHandler: failed to store subscription",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to store subscription."})
	}
	return ctx.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *APIService) uploadHandler(ctx echo.Context) error {
	var req uploadRequest
	if err := ctx.Bind(&req); err != nil {
		slog.Warn("uploadHandler: failed to bind body", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Expected payload (base64 image data URL)."})
	}
	payload := req.Payload
	if payload == "" {
		payload = req.DataURL
	}
	if payload == "" {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Expected payload (base64 image data URL)."})
	}

	filename, err := s.coreService.AcceptUpload(ctx.Request().Context(), payload, req.CreatedAt)
	if err != nil {
		if errors.Is(err, core.ErrInvalidPayload) {
			slog.Warn("uploadHandler: rejected payload", "status", http.StatusBadRequest, "error", err)
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Malformed payload."})
		}
		slog.Error("uploadHandler: failed to accept upload", "status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to store upload."})
	}
	return ctx.JSON(http.StatusOK, uploadResponse{OK: true, Filename: filename})
}
