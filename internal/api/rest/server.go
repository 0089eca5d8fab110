package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/api/websocket"
	"github.com/KevinKickass/OpenGripCore/internal/auth"
	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
		}

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentPrincipal)
		}

		// ==================== DEVICE ====================
		device := v1.Group("/device")
		device.Use(s.authService.AuthMiddleware())
		{
			device.GET("/status", auth.RequirePermission(auth.PermViewer), s.getDeviceStatus)
			device.GET("/telemetry", auth.RequirePermission(auth.PermViewer), s.getTelemetry)
			device.POST("/command", auth.RequirePermission(auth.PermOperator), s.submitCommand)
		}

		// ==================== HARDWARE ====================
		hardware := v1.Group("/hardware")
		hardware.Use(s.authService.AuthMiddleware())
		hardware.Use(auth.RequirePermission(auth.PermViewer))
		{
			hardware.GET("/profile", s.getHardwareProfile)
			hardware.GET("/profiles", s.listHardwareProfiles)
		}

		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		system.Use(auth.RequirePermission(auth.PermViewer))
		{
			system.GET("/status", s.getSystemStatus)
		}

		// ==================== WEBSOCKET (auth via first message or ?token=) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermViewer), s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public). 503 until the control loop runs.
func (s *Server) healthCheck(c *gin.Context) {
	st := s.lm.GetCurrentStatus()

	code := http.StatusOK
	status := "ok"
	if st.State != "RUNNING" {
		code = http.StatusServiceUnavailable
		status = "unavailable"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"state":     st.State,
		"link":      st.Link.State,
		"actuator":  st.Actuator.State,
		"timestamp": time.Now().Unix(),
	})
}
