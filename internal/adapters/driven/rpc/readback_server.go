package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// Ensure ReadBackServer implements the interface.
var _ driven.ReadBackServer = (*ReadBackServer)(nil)

// ReadBackServer is the connector's read-back server for one job.
// It is constructed with the job's ReadBackService and holds no global state.
type ReadBackServer struct {
	srv  *grpc.Server
	addr string
	log  *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ServeReadBack listens on address and answers read-back calls through svc.
// A positive limit throttles calls to limit per second with the given burst.
func ServeReadBack(
	ctx context.Context,
	address string,
	svc driving.ReadBackService,
	limit rate.Limit,
	burst int,
) (*ReadBackServer, error) {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}

	var opts []grpc.ServerOption
	if limit > 0 {
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, grpc.UnaryInterceptor(rateLimitInterceptor(rate.NewLimiter(limit, burst))))
	}

	s := &ReadBackServer{
		srv:  grpc.NewServer(opts...),
		addr: lis.Addr().String(),
		log:  logger.Named("readback"),
	}
	s.srv.RegisterService(&readBackServiceDesc, &readBackHandler{svc: svc, log: s.log})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Warn("read-back server stopped", zap.Error(err))
		}
	}()
	s.log.Debug("serving", zap.String("address", s.addr))
	return s, nil
}

// Address returns the bound host:port.
func (s *ReadBackServer) Address() string {
	return s.addr
}

// Stop waits for in-flight calls and closes the listener.
func (s *ReadBackServer) Stop() {
	s.stopOnce.Do(func() {
		s.srv.GracefulStop()
		s.wg.Wait()
	})
}

// rateLimitInterceptor delays calls beyond the limiter's rate and rejects
// calls whose deadline cannot be met.
func rateLimitInterceptor(l *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := l.Wait(ctx); err != nil {
			return nil, status.Errorf(codes.ResourceExhausted, "%s: %v", info.FullMethod, err)
		}
		return handler(ctx, req)
	}
}

// readBackHandler adapts a driving.ReadBackService to the wire messages.
type readBackHandler struct {
	svc driving.ReadBackService
	log *zap.Logger
}

func (h *readBackHandler) TryGetElementProps(
	ctx context.Context,
	req *ElementSelectorRequest,
) (*ElementPropsResponse, error) {
	props, err := h.svc.TryGetElementProps(ctx, driving.ElementSelector{
		ID:             req.ID,
		FederationGUID: req.FederationGUID,
		Code:           req.Code,
		Aspect:         req.Aspect,
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	if props == nil {
		return &ElementPropsResponse{}, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &ElementPropsResponse{Found: true, PropsJSON: string(data)}, nil
}

func (h *readBackHandler) GetExternalSourceAspectProps(
	ctx context.Context,
	req *AspectRequest,
) (*AspectPropsResponse, error) {
	aspect, err := h.svc.GetExternalSourceAspectProps(ctx, req.AspectID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	data, err := json.Marshal(aspect)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &AspectPropsResponse{PropsJSON: string(data)}, nil
}

func (h *readBackHandler) DetectChange(ctx context.Context, req *DetectChangeMessage) (*DetectChangeReply, error) {
	res, err := h.svc.DetectChange(ctx, driving.DetectChangeRequest{
		Identifier: req.Identifier,
		Version:    req.Version,
		Checksum:   req.Checksum,
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	h.log.Debug("detect change",
		zap.String("kind", req.Identifier.Kind),
		zap.String("identifier", req.Identifier.Identifier),
		zap.Stringer("state", res.State))
	return &DetectChangeReply{
		ElementID: res.ElementID,
		AspectID:  res.AspectID,
		IsChanged: res.IsChanged,
		State:     res.State.String(),
	}, nil
}

func (h *readBackHandler) ExecuteQuery(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	rows, err := h.svc.ExecuteQuery(ctx, domain.ElementQuery{
		ClassFullName:   req.ClassFullName,
		ModelID:         req.ModelID,
		CodeValuePrefix: req.CodeValuePrefix,
		Limit:           req.Limit,
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	out := &QueryResponse{RowsJSON: make([]string, 0, len(rows))}
	for i := range rows {
		data, err := json.Marshal(&rows[i])
		if err != nil {
			return nil, toGRPCError(err)
		}
		out.RowsJSON = append(out.RowsJSON, string(data))
	}
	return out, nil
}
