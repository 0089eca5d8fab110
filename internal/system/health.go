package system

import (
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LinkService is the health service name that follows the link state.
// The empty service reports whether the daemon itself is up.
const LinkService = "opengripcore.Link"

// HealthReporter exposes the standard gRPC health service.
type HealthReporter struct {
	server *health.Server
}

func NewHealthReporter() *HealthReporter {
	h := &HealthReporter{server: health.NewServer()}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.server.SetServingStatus(LinkService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

func (h *HealthReporter) SetRunning(running bool) {
	h.server.SetServingStatus("", servingStatus(running))
}

func (h *HealthReporter) SetLink(state types.LinkState) {
	h.server.SetServingStatus(LinkService, servingStatus(state.Connected()))
}

// Shutdown reports NOT_SERVING for every service and ignores later updates.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
