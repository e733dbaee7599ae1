package grpcserver

import (
	"fmt"
	"net"

	"codevibe-chat/backend/pkg/health"
	"codevibe-chat/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ChatService is the service name reported by the health endpoint
const ChatService = "codevibe.chat.v1.Chat"

// Server exposes the standard gRPC health protocol backed by the HTTP health checker
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	log    *logger.Logger
}

// New creates a gRPC server whose health status follows checker
func New(checker *health.Checker, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDiscard()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.SetServing(checker.IsSystemHealthy())
	checker.OnChange(s.SetServing)

	return s
}

// SetServing updates the overall and chat service status
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ChatService, status)
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on :port
func (s *Server) ListenAndServe(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(lis)
}

// Stop marks the service as not serving and drains connections
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
