package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilewire/internal/catalog"
	"tilewire/internal/server"
)

const internalServerErrorText = "the server encountered an error and could not process your request"

// TileServer is the part of the tile server the admin API manages.
type TileServer interface {
	Stats() server.Stats
	Drawables() []server.Drawable
	AddDrawable(id int32, width, height, bpp int) error
	ClearTiles() error
}

// DrawableCatalog persists drawables registered through the API.
type DrawableCatalog interface {
	Save(e catalog.Entry) error
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type addDrawableRequest struct {
	ID     *int32 `json:"id" binding:"required,min=0"`
	Name   string `json:"name"`
	Width  int    `json:"width" binding:"required,min=1"`
	Height int    `json:"height" binding:"required,min=1"`
	BPP    int    `json:"bpp" binding:"required,min=1,max=4"`
}

type Handlers struct {
	logger  *zap.Logger
	server  TileServer
	catalog DrawableCatalog
}

// New creates the admin handlers. cat may be nil, in which case drawables
// added through the API last until the server stops.
func New(logger *zap.Logger, srv TileServer, cat DrawableCatalog) *Handlers {
	return &Handlers{
		logger:  logger,
		server:  srv,
		catalog: cat,
	}
}

func (h *Handlers) RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		start := time.Now()

		c.Header("X-Request-Id", requestID)
		c.Next()

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", extractIP(c.Request)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}

func (h *Handlers) respondWithJSON(c *gin.Context, code int, message string, data any) {
	c.JSON(code, response{
		Success: code < 400,
		Message: message,
		Data:    data,
	})
}

func (h *Handlers) HandleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) HandleStats(c *gin.Context) {
	h.respondWithJSON(c, http.StatusOK, "ok", h.server.Stats())
}

func (h *Handlers) HandleDrawables(c *gin.Context) {
	h.respondWithJSON(c, http.StatusOK, "ok", h.server.Drawables())
}

func (h *Handlers) HandleAddDrawable(c *gin.Context) {
	var req addDrawableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.server.AddDrawable(*req.ID, req.Width, req.Height, req.BPP); err != nil {
		h.respondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if h.catalog != nil {
		err := h.catalog.Save(catalog.Entry{
			ID:     *req.ID,
			Name:   req.Name,
			Width:  req.Width,
			Height: req.Height,
			BPP:    req.BPP,
		})
		if err != nil {
			h.logger.Error("Failed to persist drawable", zap.Int32("drawable", *req.ID), zap.Error(err))
			h.respondWithJSON(c, http.StatusInternalServerError, internalServerErrorText, nil)
			return
		}
	}

	h.respondWithJSON(c, http.StatusCreated, "drawable registered", req)
}

func (h *Handlers) HandleClearTiles(c *gin.Context) {
	if err := h.server.ClearTiles(); err != nil {
		h.logger.Error("Failed to clear tiles", zap.Error(err))
		c.Error(errors.New(internalServerErrorText))
		h.respondWithJSON(c, http.StatusInternalServerError, internalServerErrorText, nil)
		return
	}
	h.respondWithJSON(c, http.StatusOK, "tiles cleared", nil)
}

// Not for real production use due to potential spoofing
func extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}
