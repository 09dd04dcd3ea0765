package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.TargetStore = (*Store)(nil)

// Store is a SQLite-backed target store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.readerbridge/data/target.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".readerbridge", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "target.db")

	// WAL lets read-back queries run while the orchestrator holds a write transaction.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if err := s.ensureReserved(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("provisioning reserved elements: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ensureReserved inserts the root subject and dictionary model on first open.
func (s *Store) ensureReserved(ctx context.Context) error {
	reserved := []domain.ElementProps{
		{
			ID:            domain.RootSubjectID,
			ClassFullName: "BisCore:Subject",
			ModelID:       domain.RepositoryModelID,
			Code:          domain.Code{Spec: "bis:Subject", Scope: domain.RootSubjectID, Value: "root"},
		},
		{
			ID:            domain.DictionaryModelID,
			ClassFullName: "BisCore:DefinitionPartition",
			ModelID:       domain.RepositoryModelID,
			Code:          domain.Code{Spec: "bis:InformationPartitionElement", Scope: domain.RootSubjectID, Value: "dictionary"},
		},
	}
	for _, e := range reserved {
		n, err := domain.ParseID(e.ID)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO elements
				(id, class_full_name, model_id, code_spec, code_scope, code_value, federation_guid)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, int64(n), e.ClassFullName, e.ModelID, e.Code.Spec, e.Code.Scope, e.Code.Value, uuid.NewString())
		if err != nil {
			return fmt.Errorf("inserting %s: %w", e.ID, err)
		}
	}
	return nil
}

// ==================== Element Reader ====================

const elementColumns = `id, class_full_name, model_id, code_spec, code_scope, code_value,
	federation_guid, user_label, parent_id, json_properties`

const aspectColumns = `id, element_id, scope_id, kind, identifier, version, checksum, json_properties`

// GetElement returns an element by id.
func (s *Store) GetElement(ctx context.Context, id string) (*domain.ElementProps, error) {
	n, err := domain.ParseID(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+elementColumns+" FROM elements WHERE id = ?", int64(n))
	return scanElement(row)
}

// FindElementByGUID returns an element by federation GUID.
func (s *Store) FindElementByGUID(ctx context.Context, guid string) (*domain.ElementProps, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+elementColumns+" FROM elements WHERE federation_guid = ?", guid)
	return scanElement(row)
}

// QueryElementIDByCode returns the id of the element holding code.
func (s *Store) QueryElementIDByCode(ctx context.Context, code domain.Code) (string, error) {
	return queryIDByCode(ctx, s.db, code)
}

// FindAspectBySource returns the provenance record for key.
func (s *Store) FindAspectBySource(ctx context.Context, key domain.AspectIdentifier) (*domain.AspectProps, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+aspectColumns+` FROM external_source_aspects
		WHERE scope_id = ? AND kind = ? AND identifier = ?`, key.ScopeID, key.Kind, key.Identifier)
	return scanAspect(row)
}

// GetAspect returns a provenance record by id.
func (s *Store) GetAspect(ctx context.Context, id string) (*domain.AspectProps, error) {
	n, err := domain.ParseID(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+aspectColumns+" FROM external_source_aspects WHERE id = ?", int64(n))
	return scanAspect(row)
}

// ListAspects returns all provenance records for a scope and kind.
func (s *Store) ListAspects(ctx context.Context, scopeID, kind string) ([]domain.AspectProps, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+aspectColumns+` FROM external_source_aspects
		WHERE scope_id = ? AND kind = ? ORDER BY id`, scopeID, kind)
	if err != nil {
		return nil, fmt.Errorf("querying aspects: %w", err)
	}
	defer rows.Close()

	var out []domain.AspectProps
	for rows.Next() {
		a, err := scanAspect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aspects: %w", err)
	}
	return out, nil
}

// QueryElements returns elements matching q ordered by id.
func (s *Store) QueryElements(ctx context.Context, q domain.ElementQuery) ([]domain.ElementProps, error) {
	var (
		where []string
		args  []any
	)
	if q.ClassFullName != "" {
		where = append(where, "class_full_name = ?")
		args = append(args, q.ClassFullName)
	}
	if q.ModelID != "" {
		where = append(where, "model_id = ?")
		args = append(args, q.ModelID)
	}
	if q.CodeValuePrefix != "" {
		where = append(where, "instr(code_value, ?) = 1")
		args = append(args, q.CodeValuePrefix)
	}

	query := "SELECT " + elementColumns + " FROM elements"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying elements: %w", err)
	}
	defer rows.Close()

	var out []domain.ElementProps
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating elements: %w", err)
	}
	return out, nil
}

// ListRelationships returns relationships of a class; empty class lists all.
func (s *Store) ListRelationships(ctx context.Context, classFullName string) ([]domain.Relationship, error) {
	query := "SELECT class_full_name, source_id, target_id FROM relationships"
	var args []any
	if classFullName != "" {
		query += " WHERE class_full_name = ?"
		args = append(args, classFullName)
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	var out []domain.Relationship
	for rows.Next() {
		var (
			rel              domain.Relationship
			source, target int64
		)
		if err := rows.Scan(&rel.ClassFullName, &source, &target); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		rel.SourceID = domain.FormatID(uint64(source))
		rel.TargetID = domain.FormatID(uint64(target))
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}
	return out, nil
}

// GetSchema returns an imported schema by name.
func (s *Store) GetSchema(ctx context.Context, name string) (*domain.Schema, error) {
	var (
		schema domain.Schema
		body   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, "SELECT name, version, body FROM schemas WHERE name = ?", name).
		Scan(&schema.Name, &schema.Version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning schema: %w", err)
	}
	schema.Body = body.String
	return &schema, nil
}

// ==================== Transactions ====================

// Begin opens a write transaction.
func (s *Store) Begin(ctx context.Context) (driven.TargetTx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &tx{tx: sqlTx}, nil
}

// tx implements driven.TargetTx.
type tx struct {
	tx *sql.Tx
}

var _ driven.TargetTx = (*tx)(nil)

// allocate hands out the next id from the shared element/aspect sequence.
func (x *tx) allocate(ctx context.Context) (int64, error) {
	var id int64
	err := x.tx.QueryRowContext(ctx,
		"UPDATE id_sequence SET next = next + 1 WHERE name = 'ids' RETURNING next - 1").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocating id: %w", err)
	}
	return id, nil
}

func (x *tx) elementExists(ctx context.Context, id string) (int64, error) {
	n, err := domain.ParseID(id)
	if err != nil {
		return 0, fmt.Errorf("element %s: %w", id, domain.ErrNotFound)
	}
	var one int
	err = x.tx.QueryRowContext(ctx, "SELECT 1 FROM elements WHERE id = ?", int64(n)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("element %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("checking element %s: %w", id, err)
	}
	return int64(n), nil
}

func (x *tx) checkCode(ctx context.Context, code domain.Code, self string) error {
	if code.IsEmpty() {
		return nil
	}
	owner, err := queryIDByCode(ctx, x.tx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != self {
		return fmt.Errorf("%w: %s/%s/%s", domain.ErrDuplicateCode, code.Spec, code.Scope, code.Value)
	}
	return nil
}

func (x *tx) checkGUID(ctx context.Context, guid, self string) error {
	if guid == "" {
		return nil
	}
	var owner int64
	err := x.tx.QueryRowContext(ctx, "SELECT id FROM elements WHERE federation_guid = ?", guid).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking federation guid: %w", err)
	}
	if domain.FormatID(uint64(owner)) != self {
		return fmt.Errorf("%w: federation guid %s", domain.ErrAlreadyExists, guid)
	}
	return nil
}

// InsertElement assigns an id and returns it.
func (x *tx) InsertElement(ctx context.Context, props domain.ElementProps) (string, error) {
	if err := x.checkCode(ctx, props.Code, ""); err != nil {
		return "", err
	}
	if props.FederationGUID == "" {
		props.FederationGUID = uuid.NewString()
	}
	if err := x.checkGUID(ctx, props.FederationGUID, ""); err != nil {
		return "", err
	}

	id, err := x.allocate(ctx)
	if err != nil {
		return "", err
	}

	_, err = x.tx.ExecContext(ctx, `
		INSERT INTO elements
			(id, class_full_name, model_id, code_spec, code_scope, code_value,
			 federation_guid, user_label, parent_id, json_properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, props.ClassFullName, props.ModelID, props.Code.Spec, props.Code.Scope, nullString(props.Code.Value),
		props.FederationGUID, nullString(props.UserLabel), nullString(props.ParentID), nullString(string(props.JSONProperties)))
	if err != nil {
		return "", fmt.Errorf("inserting element: %w", err)
	}
	return domain.FormatID(uint64(id)), nil
}

// UpdateElement replaces an existing element's properties.
func (x *tx) UpdateElement(ctx context.Context, props domain.ElementProps) error {
	n, err := x.elementExists(ctx, props.ID)
	if err != nil {
		return err
	}
	if err := x.checkCode(ctx, props.Code, props.ID); err != nil {
		return err
	}
	if err := x.checkGUID(ctx, props.FederationGUID, props.ID); err != nil {
		return err
	}

	_, err = x.tx.ExecContext(ctx, `
		UPDATE elements SET
			class_full_name = ?,
			model_id = ?,
			code_spec = ?,
			code_scope = ?,
			code_value = ?,
			federation_guid = COALESCE(?, federation_guid),
			user_label = ?,
			parent_id = ?,
			json_properties = ?
		WHERE id = ?
	`, props.ClassFullName, props.ModelID, props.Code.Spec, props.Code.Scope, nullString(props.Code.Value),
		nullString(props.FederationGUID), nullString(props.UserLabel), nullString(props.ParentID),
		nullString(string(props.JSONProperties)), n)
	if err != nil {
		return fmt.Errorf("updating element: %w", err)
	}
	return nil
}

// DeleteElement removes an element; aspects and relationships cascade.
func (x *tx) DeleteElement(ctx context.Context, id string) error {
	n, err := x.elementExists(ctx, id)
	if err != nil {
		return err
	}
	if _, err := x.tx.ExecContext(ctx, "DELETE FROM elements WHERE id = ?", n); err != nil {
		return fmt.Errorf("deleting element: %w", err)
	}
	return nil
}

// UpsertAspect inserts or updates the aspect keyed by (scope, kind, identifier).
func (x *tx) UpsertAspect(ctx context.Context, aspect domain.AspectProps) (string, error) {
	owner, err := x.elementExists(ctx, aspect.ElementID)
	if err != nil {
		return "", fmt.Errorf("aspect owner: %w", err)
	}

	var id int64
	err = x.tx.QueryRowContext(ctx, `
		SELECT id FROM external_source_aspects WHERE scope_id = ? AND kind = ? AND identifier = ?
	`, aspect.ScopeID, aspect.Kind, aspect.Identifier).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if id, err = x.allocate(ctx); err != nil {
			return "", err
		}
		_, err = x.tx.ExecContext(ctx, `
			INSERT INTO external_source_aspects
				(id, element_id, scope_id, kind, identifier, version, checksum, json_properties)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, owner, aspect.ScopeID, aspect.Kind, aspect.Identifier,
			nullString(aspect.Version), nullString(aspect.Checksum), nullString(string(aspect.JSONProperties)))
		if err != nil {
			return "", fmt.Errorf("inserting aspect: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("finding aspect: %w", err)
	default:
		_, err = x.tx.ExecContext(ctx, `
			UPDATE external_source_aspects SET
				element_id = ?, version = ?, checksum = ?, json_properties = ?
			WHERE id = ?
		`, owner, nullString(aspect.Version), nullString(aspect.Checksum), nullString(string(aspect.JSONProperties)), id)
		if err != nil {
			return "", fmt.Errorf("updating aspect: %w", err)
		}
	}
	return domain.FormatID(uint64(id)), nil
}

// InsertRelationship records a relationship once.
func (x *tx) InsertRelationship(ctx context.Context, rel domain.Relationship) error {
	source, err := x.elementExists(ctx, rel.SourceID)
	if err != nil {
		return fmt.Errorf("relationship source: %w", err)
	}
	target, err := x.elementExists(ctx, rel.TargetID)
	if err != nil {
		return fmt.Errorf("relationship target: %w", err)
	}
	_, err = x.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO relationships (class_full_name, source_id, target_id) VALUES (?, ?, ?)
	`, rel.ClassFullName, source, target)
	if err != nil {
		return fmt.Errorf("inserting relationship: %w", err)
	}
	return nil
}

// DeleteRelationships removes every relationship of a class that targets targetID.
func (x *tx) DeleteRelationships(ctx context.Context, classFullName, targetID string) error {
	target, err := domain.ParseID(targetID)
	if err != nil {
		return fmt.Errorf("relationship target %s: %w", targetID, domain.ErrNotFound)
	}
	_, err = x.tx.ExecContext(ctx, `
		DELETE FROM relationships WHERE class_full_name = ? AND target_id = ?
	`, classFullName, int64(target))
	if err != nil {
		return fmt.Errorf("deleting relationships: %w", err)
	}
	return nil
}

// ImportSchema records a schema.
func (x *tx) ImportSchema(ctx context.Context, schema domain.Schema) error {
	_, err := x.tx.ExecContext(ctx, `
		INSERT INTO schemas (name, version, body) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version, body = excluded.body
	`, schema.Name, schema.Version, nullString(schema.Body))
	if err != nil {
		return fmt.Errorf("importing schema: %w", err)
	}
	return nil
}

// Commit makes the writes visible to readers.
func (x *tx) Commit() error {
	if err := x.tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Rollback discards the writes.
func (x *tx) Rollback() error {
	if err := x.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryIDByCode(ctx context.Context, q querier, code domain.Code) (string, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM elements WHERE code_spec = ? AND code_scope = ? AND code_value = ?
	`, code.Spec, code.Scope, code.Value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying code: %w", err)
	}
	return domain.FormatID(uint64(id)), nil
}

func scanElement(row scanner) (*domain.ElementProps, error) {
	var (
		e                                domain.ElementProps
		id                               int64
		codeValue, label, parent, jsonPr sql.NullString
	)
	err := row.Scan(&id, &e.ClassFullName, &e.ModelID, &e.Code.Spec, &e.Code.Scope, &codeValue,
		&e.FederationGUID, &label, &parent, &jsonPr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning element: %w", err)
	}
	e.ID = domain.FormatID(uint64(id))
	e.Code.Value = codeValue.String
	e.UserLabel = label.String
	e.ParentID = parent.String
	if jsonPr.Valid && jsonPr.String != "" {
		e.JSONProperties = []byte(jsonPr.String)
	}
	return &e, nil
}

func scanAspect(row scanner) (*domain.AspectProps, error) {
	var (
		a                         domain.AspectProps
		id, elementID             int64
		version, checksum, jsonPr sql.NullString
	)
	err := row.Scan(&id, &elementID, &a.ScopeID, &a.Kind, &a.Identifier, &version, &checksum, &jsonPr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning aspect: %w", err)
	}
	a.ID = domain.FormatID(uint64(id))
	a.ElementID = domain.FormatID(uint64(elementID))
	a.Version = version.String
	a.Checksum = checksum.String
	if jsonPr.Valid && jsonPr.String != "" {
		a.JSONProperties = []byte(jsonPr.String)
	}
	return &a, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
