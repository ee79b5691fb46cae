package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Stream endpoint identity. No generated stubs; the service descriptor is
// declared by hand and frames travel through the registered JSON codec.
const (
	serviceName   = "wristlink.v1.LinkService"
	channelName   = "Channel"
	channelMethod = "/wristlink.v1.LinkService/Channel"
)

// Server accepts the counterpart's connection in listen mode. Exactly one
// channel stream is served at a time; a second counterpart is turned away.
type Server struct {
	link   *Link
	logger zerolog.Logger
	grpc   *grpc.Server

	mu     sync.Mutex
	active bool
}

// NewServer creates the listen-mode endpoint over link.
func NewServer(link *Link, logger zerolog.Logger) *Server {
	s := &Server{
		link:   link,
		logger: logger.With().Str("component", "transport-server").Logger(),
	}
	s.grpc = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	s.grpc.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    channelName,
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, s)
	return s
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).channel(stream)
}

func (s *Server) channel(stream grpc.ServerStream) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		s.logger.Warn().Msg("rejecting second counterpart stream")
		return status.Error(codes.ResourceExhausted, "counterpart already attached")
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	fs := &serverFrameStream{stream: stream}
	s.link.attach(fs)
	err := s.link.runStream(fs)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Serve blocks serving the given listener.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("link server started")
	return s.grpc.Serve(lis)
}

// Start listens on addr and serves in a background goroutine.
func (s *Server) Start(addr string) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error().Err(err).Msg("link server stopped")
		}
	}()
	return lis, nil
}

// GracefulStop stops accepting streams and waits for the active one to end.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

// Stop ends the server immediately.
func (s *Server) Stop() {
	s.grpc.Stop()
}

// serverFrameStream adapts grpc.ServerStream to the frame contract.
type serverFrameStream struct {
	stream grpc.ServerStream
}

func (s *serverFrameStream) Send(f *Frame) error {
	return s.stream.SendMsg(f)
}

func (s *serverFrameStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}
