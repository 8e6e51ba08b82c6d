package handler

import (
	"go.uber.org/zap"

	"github.com/charlesh97/bomhelper/internal/archive"
	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/session"
	"github.com/charlesh97/bomhelper/internal/sse"
	"github.com/charlesh97/bomhelper/internal/store"
	"github.com/gin-gonic/gin"
)

// Handlers is the handler collection wired into the router.
type Handlers struct {
	BOM      *BOMHandler
	Search   *SearchHandler
	Export   *ExportHandler
	Snapshot *SnapshotHandler
	SSE      *SSEHandler
}

// NewHandlers creates the handler collection. The archiver and session store
// may be nil when object storage or Postgres is not configured.
func NewHandlers(coord *session.Coordinator, parser *bom.Parser, archiver *archive.Archiver, sessions *store.SessionStore, hub *sse.Hub, logger *zap.Logger) *Handlers {
	return &Handlers{
		BOM:      NewBOMHandler(coord, parser, archiver, logger),
		Search:   NewSearchHandler(coord),
		Export:   NewExportHandler(coord),
		Snapshot: NewSnapshotHandler(coord, sessions),
		SSE:      NewSSEHandler(hub),
	}
}

// Response is the common response envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success writes a 200 response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created writes a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error writes an error response. The HTTP status is derived from the
// business code (40000 -> 400).
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}
