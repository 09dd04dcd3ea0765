package tiles

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
)

//go:embed schema/TestConnector.ecschema.xml
var schemaXML string

// Definition classes and code specs.
const (
	classDefinitionPartition = "BisCore:DefinitionPartition"
	classCategory            = "BisCore:SpatialCategory"
	classMaterial            = "BisCore:RenderMaterial"
	classGeometryPart        = "BisCore:GeometryPart"
	classView                = "BisCore:SpatialViewDefinition"

	codeSpecPartition = "BisCore:InformationPartitionElement"
	codeSpecCategory  = "BisCore:SpatialCategory"
	codeSpecMaterial  = "BisCore:RenderMaterial"
	codeSpecPart      = "BisCore:GeometryPart"
	codeSpecView      = "BisCore:ViewDefinition"

	definitionsName = "TestConnector-Definitions"
	categoryName    = "TestConnector"
	viewName        = "TestConnector-DefaultView"
)

// ImportSchema records the TestConnector schema once per version.
func (f *Format) ImportSchema(ctx context.Context, conv *driven.Conversion) error {
	existing, err := conv.Store.GetSchema(ctx, SchemaName)
	switch {
	case err == nil && existing.Version == SchemaVersion:
		return nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	}

	tx, err := conv.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.ImportSchema(ctx, domain.Schema{Name: SchemaName, Version: SchemaVersion, Body: schemaXML}); err != nil {
		return fmt.Errorf("import schema %s: %w", SchemaName, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	f.log.Info("imported schema", zap.String("schema", SchemaName), zap.String("version", SchemaVersion))
	return nil
}

// ImportDefinitions provisions the definition model under the job subject.
func (f *Format) ImportDefinitions(ctx context.Context, conv *driven.Conversion) error {
	f.mu.Lock()
	clear(f.defs)
	f.mu.Unlock()

	_, err := f.definitionModel(ctx, conv)
	return err
}

// BuildSharedDefinitions creates the category, one material per palette colour
// and one geometry part per tile type in a single transaction.
func (f *Format) BuildSharedDefinitions(ctx context.Context, conv *driven.Conversion) error {
	modelID, err := f.definitionModel(ctx, conv)
	if err != nil {
		return err
	}

	wanted := []domain.ElementProps{categoryProps(modelID)}
	for _, color := range Palette {
		wanted = append(wanted, materialProps(modelID, color))
	}
	for _, tileType := range TileTypes {
		wanted = append(wanted, partProps(modelID, tileType))
	}

	var missing []domain.ElementProps
	for _, props := range wanted {
		id, err := conv.Store.QueryElementIDByCode(ctx, props.Code)
		switch {
		case err == nil:
			f.remember(props.Code, id)
		case errors.Is(err, domain.ErrNotFound):
			missing = append(missing, props)
		default:
			return err
		}
	}
	if len(missing) == 0 {
		return nil
	}

	tx, err := conv.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ids := make([]string, len(missing))
	for i, props := range missing {
		if ids[i], err = tx.InsertElement(ctx, props); err != nil {
			return fmt.Errorf("insert %s: %w", props.Code.Value, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for i, props := range missing {
		f.remember(props.Code, ids[i])
	}
	f.log.Debug("shared definitions created", zap.Int("count", len(missing)))
	return nil
}

// Finalize inserts the default view once.
func (f *Format) Finalize(ctx context.Context, conv *driven.Conversion) error {
	modelID, err := f.definitionModel(ctx, conv)
	if err != nil {
		return err
	}
	categoryID, err := f.category(ctx, conv)
	if err != nil {
		return err
	}

	props, err := json.Marshal(map[string]any{
		"models":     []string{conv.ModelID},
		"categories": []string{categoryID},
	})
	if err != nil {
		return err
	}
	_, err = f.ensure(ctx, conv, domain.ElementProps{
		ClassFullName:  classView,
		ModelID:        modelID,
		Code:           domain.Code{Spec: codeSpecView, Scope: modelID, Value: viewName},
		UserLabel:      viewName,
		JSONProperties: props,
	})
	return err
}

func (f *Format) definitionModel(ctx context.Context, conv *driven.Conversion) (string, error) {
	if conv.SubjectID == "" {
		return "", fmt.Errorf("%w: job has no subject", domain.ErrInvalidInput)
	}
	return f.ensure(ctx, conv, domain.ElementProps{
		ClassFullName: classDefinitionPartition,
		ModelID:       domain.RepositoryModelID,
		ParentID:      conv.SubjectID,
		Code:          domain.Code{Spec: codeSpecPartition, Scope: conv.SubjectID, Value: definitionsName},
	})
}

func (f *Format) category(ctx context.Context, conv *driven.Conversion) (string, error) {
	modelID, err := f.definitionModel(ctx, conv)
	if err != nil {
		return "", err
	}
	return f.ensure(ctx, conv, categoryProps(modelID))
}

func (f *Format) material(ctx context.Context, conv *driven.Conversion, color string) (string, error) {
	modelID, err := f.definitionModel(ctx, conv)
	if err != nil {
		return "", err
	}
	return f.ensure(ctx, conv, materialProps(modelID, color))
}

func (f *Format) geometryPart(ctx context.Context, conv *driven.Conversion, tileType string) (string, error) {
	modelID, err := f.definitionModel(ctx, conv)
	if err != nil {
		return "", err
	}
	return f.ensure(ctx, conv, partProps(modelID, tileType))
}

func categoryProps(modelID string) domain.ElementProps {
	return domain.ElementProps{
		ClassFullName: classCategory,
		ModelID:       modelID,
		Code:          domain.Code{Spec: codeSpecCategory, Scope: modelID, Value: categoryName},
		UserLabel:     categoryName,
	}
}

func materialProps(modelID, color string) domain.ElementProps {
	props, _ := json.Marshal(map[string]string{"color": color})
	return domain.ElementProps{
		ClassFullName:  classMaterial,
		ModelID:        modelID,
		Code:           domain.Code{Spec: codeSpecMaterial, Scope: modelID, Value: color},
		UserLabel:      color,
		JSONProperties: props,
	}
}

func partProps(modelID, tileType string) domain.ElementProps {
	return domain.ElementProps{
		ClassFullName: classGeometryPart,
		ModelID:       modelID,
		Code:          domain.Code{Spec: codeSpecPart, Scope: modelID, Value: tileType},
		UserLabel:     tileType,
	}
}

// ensure returns the element holding props.Code, inserting it when missing.
func (f *Format) ensure(ctx context.Context, conv *driven.Conversion, props domain.ElementProps) (string, error) {
	f.mu.Lock()
	id, ok := f.defs[props.Code]
	f.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := conv.Store.QueryElementIDByCode(ctx, props.Code)
	if err == nil {
		f.remember(props.Code, id)
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	tx, err := conv.Store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if id, err = tx.InsertElement(ctx, props); err != nil {
		return "", fmt.Errorf("insert %s %s: %w", props.ClassFullName, props.Code.Value, err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	f.remember(props.Code, id)
	return id, nil
}

func (f *Format) remember(code domain.Code, id string) {
	f.mu.Lock()
	f.defs[code] = id
	f.mu.Unlock()
}
