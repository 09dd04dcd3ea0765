package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// Ensure ReadBackClient implements the interface.
var _ driving.ReadBackService = (*ReadBackClient)(nil)

// ReadBackClient is the reader's client for the connector's read-back server.
// It exposes the same surface as the service it calls.
type ReadBackClient struct {
	conn *grpc.ClientConn
}

// DialReadBack connects to a connector's read-back server.
func DialReadBack(ctx context.Context, address string, timeout time.Duration) (*ReadBackClient, error) {
	conn, err := dial(ctx, address, timeout)
	if err != nil {
		return nil, err
	}
	return &ReadBackClient{conn: conn}, nil
}

// Close releases the connection.
func (c *ReadBackClient) Close() error {
	return c.conn.Close()
}

// TryGetElementProps returns nil, nil when nothing matches.
func (c *ReadBackClient) TryGetElementProps(
	ctx context.Context,
	sel driving.ElementSelector,
) (*domain.ElementProps, error) {
	resp := new(ElementPropsResponse)
	err := c.conn.Invoke(ctx, methodTryGetElementProps, &ElementSelectorRequest{
		ID:             sel.ID,
		FederationGUID: sel.FederationGUID,
		Code:           sel.Code,
		Aspect:         sel.Aspect,
	}, resp)
	if err != nil {
		return nil, fromGRPCError(err)
	}
	if !resp.Found {
		return nil, nil
	}
	var props domain.ElementProps
	if err := json.Unmarshal([]byte(resp.PropsJSON), &props); err != nil {
		return nil, fmt.Errorf("decoding element props: %w", err)
	}
	return &props, nil
}

// GetExternalSourceAspectProps returns domain.ErrNotFound for unknown ids.
func (c *ReadBackClient) GetExternalSourceAspectProps(
	ctx context.Context,
	aspectID string,
) (*domain.AspectProps, error) {
	resp := new(AspectPropsResponse)
	if err := c.conn.Invoke(ctx, methodGetAspectProps, &AspectRequest{AspectID: aspectID}, resp); err != nil {
		return nil, fromGRPCError(err)
	}
	var aspect domain.AspectProps
	if err := json.Unmarshal([]byte(resp.PropsJSON), &aspect); err != nil {
		return nil, fmt.Errorf("decoding aspect props: %w", err)
	}
	return &aspect, nil
}

// DetectChange asks the connector to classify a record.
func (c *ReadBackClient) DetectChange(
	ctx context.Context,
	req driving.DetectChangeRequest,
) (driving.DetectChangeResult, error) {
	resp := new(DetectChangeReply)
	err := c.conn.Invoke(ctx, methodDetectChange, &DetectChangeMessage{
		Identifier: req.Identifier,
		Version:    req.Version,
		Checksum:   req.Checksum,
	}, resp)
	if err != nil {
		return driving.DetectChangeResult{}, fromGRPCError(err)
	}
	return driving.DetectChangeResult{
		ElementID: resp.ElementID,
		AspectID:  resp.AspectID,
		IsChanged: resp.IsChanged,
		State:     parseItemState(resp.State),
	}, nil
}

// ExecuteQuery runs a structured element query on the connector.
func (c *ReadBackClient) ExecuteQuery(ctx context.Context, q domain.ElementQuery) ([]domain.ElementProps, error) {
	resp := new(QueryResponse)
	err := c.conn.Invoke(ctx, methodExecuteQuery, &QueryRequest{
		ClassFullName:   q.ClassFullName,
		ModelID:         q.ModelID,
		CodeValuePrefix: q.CodeValuePrefix,
		Limit:           q.Limit,
	}, resp)
	if err != nil {
		return nil, fromGRPCError(err)
	}
	out := make([]domain.ElementProps, 0, len(resp.RowsJSON))
	for _, row := range resp.RowsJSON {
		var props domain.ElementProps
		if err := json.Unmarshal([]byte(row), &props); err != nil {
			return nil, fmt.Errorf("decoding query row: %w", err)
		}
		out = append(out, props)
	}
	return out, nil
}
