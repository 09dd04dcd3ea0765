package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// ReaderServer serves a ReaderService on the Control/Data channel.
// It stops itself once a Shutdown call has been answered.
type ReaderServer struct {
	svc driving.ReaderService
	srv *grpc.Server
	log *zap.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewReaderServer creates a server for svc.
func NewReaderServer(svc driving.ReaderService, opts ...grpc.ServerOption) *ReaderServer {
	s := &ReaderServer{
		svc:     svc,
		srv:     grpc.NewServer(opts...),
		log:     logger.Named("reader-server"),
		stopped: make(chan struct{}),
	}
	s.srv.RegisterService(&readerServiceDesc, &readerHandler{server: s})
	return s
}

// Serve accepts connections on lis until Shutdown is called remotely or Stop is called.
func (s *ReaderServer) Serve(lis net.Listener) error {
	s.log.Debug("serving", zap.String("address", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving reader: %w", err)
	}
	<-s.stopped
	return nil
}

// Stop drains in-flight calls and stops the server without waiting.
// Serve returns once the drain completed.
func (s *ReaderServer) Stop() {
	s.stopOnce.Do(func() {
		go func() {
			s.srv.GracefulStop()
			close(s.stopped)
		}()
	})
}

// ServeReader listens on address and serves svc until a Shutdown call or ctx ends.
func ServeReader(ctx context.Context, address string, svc driving.ReaderService) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	s := NewReaderServer(svc)
	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()
	return s.Serve(lis)
}

// readerHandler adapts a driving.ReaderService to the wire messages.
type readerHandler struct {
	server *ReaderServer
}

func (h *readerHandler) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
	reason, err := h.server.svc.Initialize(ctx, req.Filename, req.ReadBackAddress)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &InitializeResponse{FailureReason: reason}, nil
}

func (h *readerHandler) GetData(req *GetDataRequest, stream grpc.ServerStream) error {
	send := func(rec domain.Record) error {
		return stream.SendMsg(&RecordMessage{ObjType: rec.ObjType, Data: string(rec.Data)})
	}
	return toGRPCError(h.server.svc.GetData(stream.Context(), req.JobID, send))
}

func (h *readerHandler) Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	h.server.log.Debug("shutdown requested", zap.String("reason", req.Reason))
	if err := h.server.svc.Shutdown(ctx, req.Reason); err != nil {
		return nil, toGRPCError(err)
	}
	h.server.Stop()
	return &ShutdownResponse{}, nil
}
