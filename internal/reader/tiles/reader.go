// Package tiles is the reader for tile documents. It serves the Control/Data
// channel and streams a document's groups and tiles as records, asking the
// connector's read-back channel to flag tiles that have not changed.
package tiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	tilefmt "github.com/custodia-labs/readerbridge/internal/connectors/tiles"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/core/services"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// Ensure Reader implements the interface.
var _ driving.ReaderService = (*Reader)(nil)

// DefaultDialTimeout bounds connecting to the read-back server.
const DefaultDialTimeout = 5 * time.Second

// ReadBackClient is the connector's read-back channel as seen by the reader.
type ReadBackClient interface {
	driving.ReadBackService
	Close() error
}

// Dialer opens the read-back channel.
type Dialer func(ctx context.Context, address string) (ReadBackClient, error)

// Reader serves one tile document.
type Reader struct {
	log  *zap.Logger
	dial Dialer

	mu           sync.Mutex
	filename     string
	doc          *tilefmt.SourceFile
	readBackAddr string
	readBack     ReadBackClient
}

// Option configures a Reader.
type Option func(*Reader)

// WithDialer replaces how the read-back channel is opened.
func WithDialer(d Dialer) Option {
	return func(r *Reader) { r.dial = d }
}

// New creates a reader with no document loaded.
func New(opts ...Option) *Reader {
	r := &Reader{
		log: logger.Named("tilereader"),
		dial: func(ctx context.Context, address string) (ReadBackClient, error) {
			return rpc.DialReadBack(ctx, address, DefaultDialTimeout)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize loads filename. Problems with the document are reported as a
// failure reason rather than an error. Loading the same file again succeeds
// without re-reading it.
func (r *Reader) Initialize(_ context.Context, filename, readBackAddress string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doc != nil && r.filename == filename {
		r.setReadBack(readBackAddress)
		return "", nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Sprintf("cannot read %s: %v", filename, err), nil
	}
	var doc tilefmt.SourceFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Sprintf("cannot parse %s: %v", filename, err), nil
	}

	r.filename = filename
	r.doc = &doc
	r.setReadBack(readBackAddress)
	r.log.Info("document loaded",
		zap.String("file", filename),
		zap.Int("groups", len(doc.Groups)),
		zap.Int("tile_types", len(doc.Tiles)))
	return "", nil
}

// setReadBack records a new read-back address, dropping a client for the old one.
func (r *Reader) setReadBack(address string) {
	if address == r.readBackAddr {
		return
	}
	if r.readBack != nil {
		_ = r.readBack.Close()
		r.readBack = nil
	}
	r.readBackAddr = address
}

// GetData sends every group, then every tile in file order. A malformed tile
// ends the stream with an Error record.
func (r *Reader) GetData(ctx context.Context, jobID string, send func(domain.Record) error) error {
	r.mu.Lock()
	doc, filename := r.doc, r.filename
	r.mu.Unlock()
	if doc == nil {
		return fmt.Errorf("%w: GetData before Initialize", domain.ErrInvalidTransition)
	}

	log := r.log.With(zap.String("job", jobID))
	p := r.newChangeChecker(ctx, filename)

	for _, g := range doc.Groups {
		if g.Name == "" {
			return sendError(send, "group without name")
		}
		rec, err := record(domain.ObjTypeGroup, tilefmt.GroupRecord(g))
		if err != nil {
			return err
		}
		if err := send(rec); err != nil {
			return err
		}
	}

	var sent, skipped int
	for _, set := range doc.Tiles {
		if !tilefmt.IsTileType(set.Type) {
			return sendError(send, fmt.Sprintf("unknown tile type %q", set.Type))
		}
		for i, raw := range set.Tiles {
			if err := ctx.Err(); err != nil {
				return err
			}
			var t tilefmt.Tile
			if err := json.Unmarshal(raw, &t); err != nil {
				return sendError(send, fmt.Sprintf("%s[%d]: %v", set.Type, i, err))
			}
			if t.GUID == "" {
				return sendError(send, fmt.Sprintf("%s[%d]: missing guid", set.Type, i))
			}

			tr := tilefmt.TileRecord{Type: set.Type, Tile: raw}
			if id, unchanged := p.unchanged(ctx, set.Type, t.GUID, raw); unchanged {
				tr.Skip, tr.ElementID = true, id
				skipped++
			}
			rec, err := record(domain.ObjTypeTile, tr)
			if err != nil {
				return err
			}
			if err := send(rec); err != nil {
				return err
			}
			sent++
		}
	}

	log.Info("stream complete", zap.Int("groups", len(doc.Groups)), zap.Int("tiles", sent), zap.Int("unchanged", skipped))
	return nil
}

// Shutdown releases the read-back channel.
func (r *Reader) Shutdown(_ context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Info("shutdown requested", zap.String("reason", reason))
	if r.readBack != nil {
		err := r.readBack.Close()
		r.readBack = nil
		r.readBackAddr = ""
		return err
	}
	return nil
}

func record(objType string, payload any) (domain.Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Record{}, fmt.Errorf("encoding %s record: %w", objType, err)
	}
	return domain.Record{ObjType: objType, Data: data}, nil
}

func sendError(send func(domain.Record) error, details string) error {
	rec, err := record(domain.ObjTypeError, domain.ErrorDetails{Details: details})
	if err != nil {
		return err
	}
	return send(rec)
}

// changeChecker asks the connector whether tiles changed since the last run.
// A zero changeChecker reports every tile as changed.
type changeChecker struct {
	client ReadBackClient
	scope  string
	log    *zap.Logger
}

// newChangeChecker connects the read-back channel and finds the document's link
// element. Any failure disables change checks, never the stream.
func (r *Reader) newChangeChecker(ctx context.Context, filename string) changeChecker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readBackAddr == "" {
		return changeChecker{}
	}
	if r.readBack == nil {
		client, err := r.dial(ctx, r.readBackAddr)
		if err != nil {
			r.log.Warn("read-back unavailable", zap.String("address", r.readBackAddr), zap.Error(err))
			return changeChecker{}
		}
		r.readBack = client
	}

	link, err := r.readBack.TryGetElementProps(ctx, driving.ElementSelector{
		Aspect: &domain.AspectIdentifier{
			ScopeID:    domain.RootSubjectID,
			Kind:       services.KindRepositoryLink,
			Identifier: filename,
		},
	})
	if err != nil {
		r.log.Warn("looking up document link", zap.Error(err))
		return changeChecker{}
	}
	if link == nil {
		return changeChecker{}
	}
	return changeChecker{client: r.readBack, scope: link.ID, log: r.log}
}

func (p changeChecker) unchanged(ctx context.Context, tileType, guid string, raw json.RawMessage) (string, bool) {
	if p.client == nil {
		return "", false
	}
	sum, err := tilefmt.Checksum(tileType, raw)
	if err != nil {
		return "", false
	}
	res, err := p.client.DetectChange(ctx, driving.DetectChangeRequest{
		Identifier: domain.AspectIdentifier{ScopeID: p.scope, Kind: tilefmt.KindTile, Identifier: guid},
		Checksum:   sum,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Debug("detect change failed", zap.String("guid", guid), zap.Error(err))
		}
		return "", false
	}
	return res.ElementID, res.State == domain.ItemUnchanged
}
