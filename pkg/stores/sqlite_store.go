package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a deployment does not exist.
var ErrNotFound = errors.New("deployment not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

const deploymentColumns = `id, name, status, cloud_region, template, parameters,
	resources, error, extra_metadata, created_at, updated_at, deleted_at`

// CreateDeployment inserts a new deployment record.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusPending
	}
	if err := d.Status.Validate(); err != nil {
		return err
	}

	template, err := json.Marshal(d.Template)
	if err != nil {
		return fmt.Errorf("failed to serialize template: %w", err)
	}
	parameters, err := json.Marshal(d.Parameters)
	if err != nil {
		return fmt.Errorf("failed to serialize parameters: %w", err)
	}
	resources, err := marshalNullable(d.Resources)
	if err != nil {
		return fmt.Errorf("failed to serialize resources: %w", err)
	}
	errInfo, err := marshalNullable(d.Error)
	if err != nil {
		return fmt.Errorf("failed to serialize error: %w", err)
	}
	extra, err := marshalNullable(d.ExtraMetadata)
	if err != nil {
		return fmt.Errorf("failed to serialize extra metadata: %w", err)
	}

	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		d.ID.String(),
		d.Name,
		string(d.Status),
		d.CloudRegion,
		string(template),
		string(parameters),
		resources,
		errInfo,
		extra,
		d.CreatedAt,
		d.UpdatedAt,
		d.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id.String())

	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return d, nil
}

// UpdateDeployment applies a partial update to a deployment record. A status
// transition to DELETED stamps deleted_at; a successful transition away from
// FAILED (COMPLETED or DELETED without a new error payload) clears the stored
// error.
func (s *SQLiteStore) UpdateDeployment(ctx context.Context, id uuid.UUID, upd DeploymentUpdate) (*Deployment, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		if err := upd.Status.Validate(); err != nil {
			return nil, err
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))

		if *upd.Status == StatusDeleted {
			sets = append(sets, "deleted_at = ?")
			args = append(args, time.Now().UTC())
		}
		if (*upd.Status == StatusCompleted || *upd.Status == StatusDeleted) && upd.Error == nil {
			sets = append(sets, "error = NULL")
		}
	}
	if upd.Resources != nil {
		blob, err := json.Marshal(upd.Resources)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize resources: %w", err)
		}
		sets = append(sets, "resources = ?")
		args = append(args, string(blob))
	}
	if upd.Error != nil {
		blob, err := json.Marshal(upd.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize error: %w", err)
		}
		sets = append(sets, "error = ?")
		args = append(args, string(blob))
	}
	if upd.ExtraMetadata != nil {
		blob, err := json.Marshal(upd.ExtraMetadata)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize extra metadata: %w", err)
		}
		sets = append(sets, "extra_metadata = ?")
		args = append(args, string(blob))
	}

	query := "UPDATE deployments SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id.String())

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update deployment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.GetDeployment(ctx, id)
}

// ListDeployments lists deployments with optional filtering, newest first.
func (s *SQLiteStore) ListDeployments(ctx context.Context, filter ListFilter) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	where, args := filterClauses(filter)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deployments: %w", err)
	}

	return deployments, nil
}

// CountDeployments counts deployments matching the filter.
func (s *SQLiteStore) CountDeployments(ctx context.Context, filter ListFilter) (int, error) {
	query := `SELECT COUNT(id) FROM deployments`
	where, args := filterClauses(filter)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count deployments: %w", err)
	}
	return count, nil
}

// DeleteDeployment permanently removes a deployment record.
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Exists checks if a deployment exists.
func (s *SQLiteStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(id) FROM deployments WHERE id = ?`, id.String()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check deployment existence: %w", err)
	}
	return count > 0, nil
}

func filterClauses(filter ListFilter) ([]string, []any) {
	var where []string
	var args []any
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.CloudRegion != "" {
		where = append(where, "cloud_region = ?")
		args = append(args, filter.CloudRegion)
	}
	return where, args
}

// scanner abstracts *sql.Row and *sql.Rows for scanDeployment.
type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*Deployment, error) {
	var (
		d          Deployment
		rawID      string
		rawStatus  string
		template   string
		parameters string
		resources  sql.NullString
		errInfo    sql.NullString
		extra      sql.NullString
	)

	if err := row.Scan(
		&rawID,
		&d.Name,
		&rawStatus,
		&d.CloudRegion,
		&template,
		&parameters,
		&resources,
		&errInfo,
		&extra,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.DeletedAt,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid deployment id %q: %w", rawID, err)
	}
	d.ID = id
	d.Status = DeploymentStatus(rawStatus)

	if err := json.Unmarshal([]byte(template), &d.Template); err != nil {
		return nil, fmt.Errorf("invalid template payload: %w", err)
	}
	if err := json.Unmarshal([]byte(parameters), &d.Parameters); err != nil {
		return nil, fmt.Errorf("invalid parameters payload: %w", err)
	}
	if resources.Valid {
		d.Resources = &Resources{}
		if err := json.Unmarshal([]byte(resources.String), d.Resources); err != nil {
			return nil, fmt.Errorf("invalid resources payload: %w", err)
		}
	}
	if errInfo.Valid {
		d.Error = &ErrorInfo{}
		if err := json.Unmarshal([]byte(errInfo.String), d.Error); err != nil {
			return nil, fmt.Errorf("invalid error payload: %w", err)
		}
	}
	if extra.Valid {
		d.ExtraMetadata = &ExtraMetadata{}
		if err := json.Unmarshal([]byte(extra.String), d.ExtraMetadata); err != nil {
			return nil, fmt.Errorf("invalid extra metadata payload: %w", err)
		}
	}

	return &d, nil
}

// marshalNullable serializes v to a nullable JSON column value.
func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case *Resources:
		if t == nil {
			return nil, nil
		}
	case *ErrorInfo:
		if t == nil {
			return nil, nil
		}
	case *ExtraMetadata:
		if t == nil {
			return nil, nil
		}
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(blob), nil
}
