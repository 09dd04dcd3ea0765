package tiles

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// Format identity and the classes it creates.
const (
	FormatName    = "TestConnector"
	SchemaName    = "TestConnector"
	SchemaVersion = "1.0.0"

	KindGroup = "Group"
	KindTile  = "Tile"

	ClassGroup       = "TestConnector:TestGroup"
	RelGroupOwnsTile = "TestConnector:GroupOwnsTile"

	codeSpecGroup = "TestConnector:Group"
	codeSpecTile  = "TestConnector:Tile"
)

// TileClass returns the element class for a tile type.
func TileClass(tileType string) string {
	return "TestConnector:" + tileType
}

// Options configures how the tiles reader is started.
type Options struct {
	// Executable is the reader program.
	Executable string

	// Args precede the address on the reader's command line.
	Args []string

	// Env is added to the reader's environment.
	Env []string
}

// Format converts tile records. It is safe to reuse across sequential jobs.
type Format struct {
	opts Options
	log  *zap.Logger

	mu   sync.Mutex
	defs map[domain.Code]string
}

// New creates a tiles format.
func New(opts Options) *Format {
	return &Format{
		opts: opts,
		log:  logger.Named("tiles"),
		defs: make(map[domain.Code]string),
	}
}

// ReaderFormat returns the capability set the orchestrator drives.
func (f *Format) ReaderFormat() driven.ReaderFormat {
	return driven.ReaderFormat{
		Name:                   FormatName,
		Kinds:                  []string{KindGroup, KindTile},
		StartReader:            f.StartReader,
		ImportSchema:           f.ImportSchema,
		ImportDefinitions:      f.ImportDefinitions,
		BuildSharedDefinitions: f.BuildSharedDefinitions,
		ConvertRecord:          f.ConvertRecord,
		Finalize:               f.Finalize,
	}
}

// StartReader launches the tiles reader serving on address.
func (f *Format) StartReader(ctx context.Context, launcher driven.Launcher, address string) (driven.ReaderProcess, error) {
	return launcher.Launch(ctx, driven.LaunchSpec{
		Executable: f.opts.Executable,
		Args:       f.opts.Args,
		Address:    address,
		Env:        f.opts.Env,
		OnExit: func(code int) {
			if code != 0 {
				f.log.Warn("reader exited", zap.Int("code", code))
			}
		},
		OnError: func(err error) {
			f.log.Error("reader failed", zap.Error(err))
		},
	})
}

// ConvertRecord converts one Group or Tile record.
func (f *Format) ConvertRecord(ctx context.Context, conv *driven.Conversion, rec domain.Record) (domain.ItemState, error) {
	switch rec.ObjType {
	case domain.ObjTypeGroup:
		return f.convertGroup(ctx, conv, rec.Data)
	case domain.ObjTypeTile:
		return f.convertTile(ctx, conv, rec.Data)
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownRecord, rec.ObjType)
	}
}

func (f *Format) convertGroup(ctx context.Context, conv *driven.Conversion, data json.RawMessage) (domain.ItemState, error) {
	var g GroupRecord
	if err := json.Unmarshal(data, &g); err != nil {
		return 0, fmt.Errorf("%w: group record: %w", domain.ErrInvalidInput, err)
	}
	if g.Name == "" {
		return 0, fmt.Errorf("%w: group without name", domain.ErrInvalidInput)
	}

	item := domain.SourceItem{ID: g.Name, Checksum: GroupChecksum(g)}
	res, err := conv.Tracker.DetectChanges(ctx, conv.ScopeID, KindGroup, item)
	if err != nil {
		return 0, err
	}

	props := groupProps(conv, g)
	props.ID = res.ElementID
	results := domain.SynchronizationResults{Element: props, State: res.State}
	if _, err := conv.Tracker.UpdateIModel(ctx, results, conv.ScopeID, item, KindGroup); err != nil {
		return 0, err
	}
	return res.State, nil
}

func groupProps(conv *driven.Conversion, g GroupRecord) domain.ElementProps {
	props, _ := json.Marshal(map[string]string{"description": g.Description})
	return domain.ElementProps{
		ClassFullName:  ClassGroup,
		ModelID:        conv.ModelID,
		Code:           domain.Code{Spec: codeSpecGroup, Scope: conv.ModelID, Value: g.Name},
		FederationGUID: validGUID(g.GUID),
		UserLabel:      g.Name,
		JSONProperties: props,
	}
}

func (f *Format) convertTile(ctx context.Context, conv *driven.Conversion, data json.RawMessage) (domain.ItemState, error) {
	var r TileRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return 0, fmt.Errorf("%w: tile record: %w", domain.ErrInvalidInput, err)
	}
	if !IsTileType(r.Type) {
		return 0, fmt.Errorf("%w: unknown tile type %q", domain.ErrInvalidInput, r.Type)
	}
	var t Tile
	if err := json.Unmarshal(r.Tile, &t); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrInvalidInput, r.Type, err)
	}
	if t.GUID == "" {
		return 0, fmt.Errorf("%w: %s without guid", domain.ErrInvalidInput, r.Type)
	}

	sum, err := Checksum(r.Type, r.Tile)
	if err != nil {
		return 0, err
	}
	item := domain.SourceItem{ID: t.GUID, Checksum: sum}
	res, err := conv.Tracker.DetectChanges(ctx, conv.ScopeID, KindTile, item)
	if err != nil {
		return 0, err
	}
	if r.Skip && res.State != domain.ItemUnchanged {
		f.log.Debug("reader skipped a changed tile, converting", zap.String("guid", t.GUID))
	}

	groupID, groupCreated, err := f.resolveGroup(ctx, conv, t.Group)
	if err != nil {
		return 0, err
	}

	if res.State == domain.ItemUnchanged {
		unchanged := domain.SynchronizationResults{Element: domain.ElementProps{ID: res.ElementID}, State: res.State}
		if _, err := conv.Tracker.UpdateIModel(ctx, unchanged, conv.ScopeID, item, KindTile); err != nil {
			return 0, err
		}
		if groupCreated {
			if err := f.ownTile(ctx, conv, groupID, res.ElementID); err != nil {
				return 0, err
			}
		}
		return res.State, nil
	}

	props, err := f.tileProps(ctx, conv, r, t)
	if err != nil {
		return 0, err
	}
	props.ID = res.ElementID
	results := domain.SynchronizationResults{
		Element: props,
		State:   res.State,
		Owners:  []domain.Relationship{{ClassFullName: RelGroupOwnsTile, SourceID: groupID}},
	}
	if _, err := conv.Tracker.UpdateIModel(ctx, results, conv.ScopeID, item, KindTile); err != nil {
		return 0, err
	}
	return res.State, nil
}

func (f *Format) ownTile(ctx context.Context, conv *driven.Conversion, groupID, tileID string) error {
	if groupID == "" {
		return nil
	}
	return conv.Tracker.InsertRelationship(ctx, domain.Relationship{
		ClassFullName: RelGroupOwnsTile,
		SourceID:      groupID,
		TargetID:      tileID,
	})
}

// resolveGroup returns the element of the named group, inserting a placeholder
// when the group was never defined. The group is marked seen either way.
func (f *Format) resolveGroup(ctx context.Context, conv *driven.Conversion, name string) (string, bool, error) {
	if name == "" {
		return "", false, nil
	}
	item := domain.SourceItem{ID: name}
	res, err := conv.Tracker.DetectChanges(ctx, conv.ScopeID, KindGroup, item)
	if err != nil {
		return "", false, err
	}
	if res.State != domain.ItemNew {
		conv.Tracker.OnElementSeen(res.ElementID)
		return res.ElementID, false, nil
	}

	f.log.Debug("placeholder for undefined group", zap.String("group", name))
	placeholder := domain.SynchronizationResults{
		Element: groupProps(conv, GroupRecord{Name: name}),
		State:   domain.ItemNew,
	}
	id, err := conv.Tracker.UpdateIModel(ctx, placeholder, conv.ScopeID, item, KindGroup)
	if err != nil {
		return "", false, fmt.Errorf("placeholder group %q: %w", name, err)
	}
	return id, true, nil
}

func (f *Format) tileProps(ctx context.Context, conv *driven.Conversion, r TileRecord, t Tile) (domain.ElementProps, error) {
	categoryID, err := f.category(ctx, conv)
	if err != nil {
		return domain.ElementProps{}, err
	}
	partID, err := f.geometryPart(ctx, conv, r.Type)
	if err != nil {
		return domain.ElementProps{}, err
	}
	var materialID string
	if t.Color != "" {
		if materialID, err = f.material(ctx, conv, t.Color); err != nil {
			return domain.ElementProps{}, err
		}
	}

	props, err := json.Marshal(map[string]any{
		"tile":         r.Tile,
		"category":     categoryID,
		"geometryPart": partID,
		"material":     materialID,
	})
	if err != nil {
		return domain.ElementProps{}, err
	}

	label := r.Type
	if t.Color != "" {
		label = t.Color + " " + r.Type
	}
	return domain.ElementProps{
		ClassFullName:  TileClass(r.Type),
		ModelID:        conv.ModelID,
		Code:           domain.Code{Spec: codeSpecTile, Scope: conv.ModelID, Value: t.GUID},
		FederationGUID: validGUID(t.GUID),
		UserLabel:      label,
		JSONProperties: props,
	}, nil
}

// validGUID returns s when it is a UUID, so it can serve as a federation GUID.
func validGUID(s string) string {
	if _, err := uuid.Parse(s); err != nil {
		return ""
	}
	return s
}
