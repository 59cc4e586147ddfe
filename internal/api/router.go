package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/doorgate/internal/api/handlers"
	"github.com/your-org/doorgate/internal/api/ws"
	"github.com/your-org/doorgate/internal/audit"
	"github.com/your-org/doorgate/internal/auth"
	"github.com/your-org/doorgate/internal/face"
	"github.com/your-org/doorgate/internal/gate"
	"github.com/your-org/doorgate/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	Gate     *gate.Service
	Faces    face.AdminStore
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Recorder *audit.NATSRecorder
	Hub      *ws.Hub
	// ExtractFn embeds the single face in a reference upload.
	ExtractFn func(imageData []byte) ([]float32, error)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Recorder)
	r.GET("/", systemH.Home)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// Gating operations (MCU + camera)
	gateH := handlers.NewGateHandler(cfg.Gate)
	v1.POST("/gate/open", gateH.Open)
	v1.POST("/gate/submit", gateH.Submit)
	v1.GET("/gate/result", gateH.Result)

	// Reference enrollment (admin)
	faceH := handlers.NewFaceHandler(cfg.Faces, cfg.MinIO)
	faceH.ExtractFn = cfg.ExtractFn
	v1.POST("/faces/:uid", faceH.Enroll)
	v1.DELETE("/faces/:uid", faceH.Remove)
	v1.GET("/faces", faceH.List)

	// Audit trail
	eventH := handlers.NewEventHandler(cfg.DB, cfg.MinIO)
	v1.GET("/events", eventH.List)
	v1.GET("/events/:id/frame", eventH.Frame)

	// Live event feed
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
