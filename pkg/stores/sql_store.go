package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQLStore implements Store over database/sql. One instance is safe for
// concurrent use; every mutating operation runs in its own SERIALIZABLE
// transaction.
type SQLStore struct {
	driver string
	dsn    string
	db     *sql.DB
	logger *telemetry.Logger
}

// NewSQLStore creates a store for the given driver and DSN. Call Init
// before use.
func NewSQLStore(driver, dsn string, tel *telemetry.Telemetry) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return &SQLStore{
		driver: driver,
		dsn:    dsn,
		logger: tel.Logger.NewComponentLogger("store"),
	}, nil
}

// Init opens the database connection and verifies it.
func (s *SQLStore) Init(ctx context.Context) error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.driver == DriverSQLite {
		// A single writer connection sidesteps SQLITE_BUSY under concurrent
		// flights; SQLite serializes writers anyway.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return fmt.Errorf("failed to apply %s: %w", pragma, err)
			}
		}
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.WithField("driver", s.driver).Info("store initialized")
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies pending schema migrations from the embedded set.
func (s *SQLStore) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var m *migrate.Migrate
	switch s.driver {
	case DriverSQLite:
		drv, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
		if err != nil {
			return fmt.Errorf("failed to create migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
	case DriverPostgres:
		drv, err := pgxmigrate.WithInstance(s.db, &pgxmigrate.Config{})
		if err != nil {
			return fmt.Errorf("failed to create migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx", drv)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	s.logger.Debug("schema migrations applied")
	return nil
}

// HealthCheck verifies database connectivity.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// q rewrites ? placeholders to $N for PostgreSQL. Queries are written once
// in SQLite form and rebound at execution.
func (s *SQLStore) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// inTx runs fn in a SERIALIZABLE transaction, committing on nil.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation detects a unique-constraint failure across both
// backends.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

// ---------------------------------------------------------------------------
// Cloud context operations

// CreateCloudContext records a provisioned cloud context for a workspace.
func (s *SQLStore) CreateCloudContext(ctx context.Context, cc *CloudContext) error {
	payload := cc.Context
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO cloud_context (workspace_id, cloud_platform, context, created_at)
		VALUES (?, ?, ?, ?)`),
		cc.WorkspaceID.String(), string(cc.CloudPlatform), string(payload), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return resource.NewDuplicateResourceError(
				fmt.Sprintf("cloud context for platform %s already exists", cc.CloudPlatform)).
				WithIdentity(cc.WorkspaceID.String(), "")
		}
		return fmt.Errorf("failed to create cloud context: %w", err)
	}
	return nil
}

// HasCloudContext reports whether the workspace has a provisioned context
// for the platform.
func (s *SQLStore) HasCloudContext(ctx context.Context, workspaceID uuid.UUID, platform resource.CloudPlatform) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM cloud_context WHERE workspace_id = ? AND cloud_platform = ?`),
		workspaceID.String(), string(platform)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query cloud context: %w", err)
	}
	return count > 0, nil
}

// DeleteCloudContext removes a cloud context. Returns false when none
// existed.
func (s *SQLStore) DeleteCloudContext(ctx context.Context, workspaceID uuid.UUID, platform resource.CloudPlatform) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM cloud_context WHERE workspace_id = ? AND cloud_platform = ?`),
		workspaceID.String(), string(platform))
	if err != nil {
		return false, fmt.Errorf("failed to delete cloud context: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Resource operations

// CreateControlledResource inserts a controlled resource row. The call is
// idempotent on resource id: a replay with the same id is a no-op, which is
// what lets a flight step retry its metadata write safely. A missing cloud
// context for the workspace and platform fails the precondition before any
// row is written.
func (s *SQLStore) CreateControlledResource(ctx context.Context, r *resource.Resource) error {
	d, err := resource.Lookup(r.Type)
	if err != nil {
		return err
	}
	if d.Stewardship != resource.StewardshipControlled {
		return resource.NewInvalidFieldError(
			fmt.Sprintf("resource type %s is not controlled", r.Type))
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var ccCount int
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT COUNT(*) FROM cloud_context WHERE workspace_id = ? AND cloud_platform = ?`),
			r.WorkspaceID.String(), string(d.CloudPlatform)).Scan(&ccCount)
		if err != nil {
			return fmt.Errorf("failed to query cloud context: %w", err)
		}
		if ccCount == 0 {
			return resource.NewCloudContextRequiredError(
				fmt.Sprintf("workspace has no %s cloud context", d.CloudPlatform)).
				WithIdentity(r.WorkspaceID.String(), r.ResourceID.String())
		}
		return s.insertResource(ctx, tx, r, d)
	})
}

// CreateReferencedResource inserts a referenced resource row. Same
// idempotency contract as the controlled variant, without the cloud-context
// precondition: a reference does not need a provisioned landing zone.
func (s *SQLStore) CreateReferencedResource(ctx context.Context, r *resource.Resource) error {
	d, err := resource.Lookup(r.Type)
	if err != nil {
		return err
	}
	if d.Stewardship != resource.StewardshipReferenced {
		return resource.NewInvalidFieldError(
			fmt.Sprintf("resource type %s is not referenced", r.Type))
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insertResource(ctx, tx, r, d)
	})
}

func (s *SQLStore) insertResource(ctx context.Context, tx *sql.Tx, r *resource.Resource, d resource.Descriptor) error {
	if r.State == resource.StateNotExists || r.State == "" {
		return resource.NewInvalidFieldError("resource state NOT_EXISTS is never persisted")
	}

	var count int
	err := tx.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM resource WHERE workspace_id = ? AND resource_id = ?`),
		r.WorkspaceID.String(), r.ResourceID.String()).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to query resource: %w", err)
	}
	if count > 0 {
		// Replay of a checkpointed create. The row is already there; done.
		return nil
	}

	attrs, err := r.AttributesJSON()
	if err != nil {
		return err
	}
	props, err := json.Marshal(r.Properties)
	if err != nil {
		return fmt.Errorf("failed to serialize properties: %w", err)
	}
	lineage, err := json.Marshal(r.Lineage)
	if err != nil {
		return fmt.Errorf("failed to serialize lineage: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO resource (
			workspace_id, resource_id, name, description, stewardship,
			cloud_platform, resource_type, cloning_instructions, attributes,
			properties, lineage, access_scope, managed_by, associated_app,
			assigned_user, state, flight_id, state_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.WorkspaceID.String(), r.ResourceID.String(), r.Name, r.Description,
		string(d.Stewardship), string(d.CloudPlatform), string(r.Type),
		string(r.Cloning), string(attrs), string(props), string(lineage),
		string(r.AccessScope), string(r.ManagedBy), r.AssociatedApp,
		r.AssignedUser, string(r.State), r.FlightID, r.StateError, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return resource.NewDuplicateResourceError(
				fmt.Sprintf("a resource named %q already exists in the workspace", r.Name)).
				WithIdentity(r.WorkspaceID.String(), r.ResourceID.String())
		}
		return fmt.Errorf("failed to insert resource: %w", err)
	}
	return nil
}

const resourceColumns = `
	workspace_id, cloud_platform, resource_id, name, description, stewardship,
	resource_type, cloning_instructions, attributes, properties, lineage,
	access_scope, managed_by, associated_app, assigned_user, state, flight_id,
	state_error, created_at, updated_at`

// GetResource loads one resource by id. Reads share the mutating paths'
// SERIALIZABLE isolation so a read never observes a half-applied update.
func (s *SQLStore) GetResource(ctx context.Context, workspaceID, resourceID uuid.UUID) (*resource.Resource, error) {
	var r *resource.Resource
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`
			SELECT `+resourceColumns+` FROM resource
			WHERE workspace_id = ? AND resource_id = ?`),
			workspaceID.String(), resourceID.String())
		var err error
		r, err = scanResource(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resource.NewResourceNotFoundError("resource not found").
			WithIdentity(workspaceID.String(), resourceID.String())
	}
	return r, err
}

// GetResourceByName loads one resource by its workspace-unique name.
func (s *SQLStore) GetResourceByName(ctx context.Context, workspaceID uuid.UUID, name string) (*resource.Resource, error) {
	var r *resource.Resource
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`
			SELECT `+resourceColumns+` FROM resource
			WHERE workspace_id = ? AND name = ?`),
			workspaceID.String(), name)
		var err error
		r, err = scanResource(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resource.NewResourceNotFoundError(
			fmt.Sprintf("no resource named %q", name)).
			WithIdentity(workspaceID.String(), "")
	}
	return r, err
}

// ListResources pages through a workspace's resources ordered by name.
func (s *SQLStore) ListResources(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*resource.Resource, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+resourceColumns+` FROM resource
		WHERE workspace_id = ? ORDER BY name LIMIT ? OFFSET ?`),
		workspaceID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []*resource.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}
	return out, nil
}

// DeleteResource removes a resource row. Returns false when no row existed,
// so a replayed delete step is a clean no-op.
func (s *SQLStore) DeleteResource(ctx context.Context, workspaceID, resourceID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM resource WHERE workspace_id = ? AND resource_id = ?`),
		workspaceID.String(), resourceID.String())
	if err != nil {
		return false, fmt.Errorf("failed to delete resource: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateResource applies a dynamic-column metadata update. An update with
// no fields set is a programming error, not a silent no-op.
func (s *SQLStore) UpdateResource(ctx context.Context, workspaceID, resourceID uuid.UUID, update ResourceUpdate) error {
	if update.Empty() {
		return resource.NewInvalidUpdateError("resource update has no fields to change").
			WithIdentity(workspaceID.String(), resourceID.String())
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 7)
	if update.Name != nil {
		if err := resource.ValidateName(*update.Name); err != nil {
			return err
		}
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Properties != nil {
		props, err := json.Marshal(update.Properties)
		if err != nil {
			return fmt.Errorf("failed to serialize properties: %w", err)
		}
		sets = append(sets, "properties = ?")
		args = append(args, string(props))
	}
	if update.Attributes != nil {
		sets = append(sets, "attributes = ?")
		args = append(args, string(update.Attributes))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, workspaceID.String(), resourceID.String())

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			"UPDATE resource SET "+strings.Join(sets, ", ")+
				" WHERE workspace_id = ? AND resource_id = ?"), args...)
		if err != nil {
			if isUniqueViolation(err) {
				return resource.NewDuplicateResourceError(
					fmt.Sprintf("a resource named %q already exists in the workspace", *update.Name)).
					WithIdentity(workspaceID.String(), resourceID.String())
			}
			return fmt.Errorf("failed to update resource: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return resource.NewResourceNotFoundError("resource not found").
				WithIdentity(workspaceID.String(), resourceID.String())
		}
		return nil
	})
}

// UpdateResourceState advances the lifecycle state machine. The transition
// is validated against the closed transition table, and the UPDATE is
// guarded on the expected current state so two racing flights cannot both
// win. A replayed step whose transition already landed (same target state,
// same flight id) converges to success: after a crash between a step's Do
// and its checkpoint, the re-invocation must not trip the guard. Row
// creation and deletion are intentionally not gated here: undoing a
// CREATING row means deleting it, not transitioning it.
func (s *SQLStore) UpdateResourceState(ctx context.Context, workspaceID, resourceID uuid.UUID, from, to resource.State, flightID, stateError string) error {
	if !resource.IsValidTransition(from, to) {
		return resource.NewInvalidTransitionError(from, to).
			WithIdentity(workspaceID.String(), resourceID.String())
	}
	if to == resource.StateNotExists {
		return resource.NewInvalidTransitionError(from, to).
			WithIdentity(workspaceID.String(), resourceID.String())
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE resource SET state = ?, flight_id = ?, state_error = ?, updated_at = ?
			WHERE workspace_id = ? AND resource_id = ? AND state = ?`),
			string(to), flightID, stateError, time.Now().UTC(),
			workspaceID.String(), resourceID.String(), string(from))
		if err != nil {
			return fmt.Errorf("failed to update resource state: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			var current, currentFlight string
			err := tx.QueryRowContext(ctx, s.q(`
				SELECT state, flight_id FROM resource WHERE workspace_id = ? AND resource_id = ?`),
				workspaceID.String(), resourceID.String()).Scan(&current, &currentFlight)
			if errors.Is(err, sql.ErrNoRows) {
				return resource.NewResourceNotFoundError("resource not found").
					WithIdentity(workspaceID.String(), resourceID.String())
			}
			if err != nil {
				return fmt.Errorf("failed to query resource state: %w", err)
			}
			if resource.State(current) == to && currentFlight == flightID {
				// Replayed transition: the prior invocation already landed.
				return nil
			}
			return resource.NewInvalidTransitionError(resource.State(current), to).
				WithIdentity(workspaceID.String(), resourceID.String())
		}
		return nil
	})
}

// CountResourcesByState returns a state histogram across all workspaces.
// Feeds the resources-by-state gauge.
func (s *SQLStore) CountResourcesByState(ctx context.Context) (map[resource.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM resource GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count resources: %w", err)
	}
	defer rows.Close()

	out := make(map[resource.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		out[resource.State(state)] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*resource.Resource, error) {
	var d dbResource
	err := row.Scan(
		&d.workspaceID, &d.cloudPlatform, &d.resourceID, &d.name,
		&d.description, &d.stewardship, &d.resourceType, &d.cloning,
		&d.attributes, &d.properties, &d.lineage, &d.accessScope,
		&d.managedBy, &d.associatedApp, &d.assignedUser, &d.state,
		&d.flightID, &d.stateError, &d.createdAt, &d.updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan resource row: %w", err)
	}
	return d.toResource()
}

func (d *dbResource) toResource() (*resource.Resource, error) {
	workspaceID, err := uuid.Parse(d.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("corrupt workspace id %q: %w", d.workspaceID, err)
	}
	resourceID, err := uuid.Parse(d.resourceID)
	if err != nil {
		return nil, fmt.Errorf("corrupt resource id %q: %w", d.resourceID, err)
	}

	t := resource.Type(d.resourceType)
	attrs, err := resource.DecodeAttributes(t, json.RawMessage(d.attributes))
	if err != nil {
		return nil, err
	}

	var props map[string]string
	if d.properties != "" && d.properties != "null" {
		if err := json.Unmarshal([]byte(d.properties), &props); err != nil {
			return nil, fmt.Errorf("corrupt properties for resource %s: %w", d.resourceID, err)
		}
	}
	var lineage []resource.LineageEntry
	if d.lineage != "" && d.lineage != "null" {
		if err := json.Unmarshal([]byte(d.lineage), &lineage); err != nil {
			return nil, fmt.Errorf("corrupt lineage for resource %s: %w", d.resourceID, err)
		}
	}

	return &resource.Resource{
		WorkspaceID:   workspaceID,
		ResourceID:    resourceID,
		Name:          d.name,
		Description:   d.description,
		Type:          t,
		Cloning:       resource.CloningInstructions(d.cloning),
		Lineage:       lineage,
		Properties:    resource.NormalizeProperties(props),
		Attributes:    attrs,
		State:         resource.State(d.state),
		FlightID:      d.flightID,
		StateError:    d.stateError,
		AccessScope:   resource.AccessScope(d.accessScope),
		ManagedBy:     resource.ManagedBy(d.managedBy),
		AssociatedApp: d.associatedApp,
		AssignedUser:  d.assignedUser,
		CreatedAt:     d.createdAt,
		UpdatedAt:     d.updatedAt,
	}, nil
}

// ---------------------------------------------------------------------------
// Flight persistence

// CreateFlight inserts a new flight record.
func (s *SQLStore) CreateFlight(ctx context.Context, rec *flight.Record) error {
	inputs := rec.Inputs
	if len(inputs) == 0 {
		inputs = json.RawMessage("{}")
	}
	working := rec.Working
	if len(working) == 0 {
		working = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO flight (
			id, class, status, step_cursor, inputs, working, cause,
			cancel_requested, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Class, string(rec.Status), rec.StepCursor,
		string(inputs), string(working), rec.Cause, rec.CancelRequested,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("flight %s already exists", rec.ID)
		}
		return fmt.Errorf("failed to create flight: %w", err)
	}
	return nil
}

// GetFlight loads a flight by id.
func (s *SQLStore) GetFlight(ctx context.Context, id string) (*flight.Record, error) {
	var rec flight.Record
	var status, inputs, working string
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, class, status, step_cursor, inputs, working, cause,
		       cancel_requested, created_at, updated_at, completed_at
		FROM flight WHERE id = ?`), id).Scan(
		&rec.ID, &rec.Class, &status, &rec.StepCursor, &inputs, &working,
		&rec.Cause, &rec.CancelRequested, &rec.CreatedAt, &rec.UpdatedAt,
		&completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("flight %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flight: %w", err)
	}
	rec.Status = flight.State(status)
	rec.Inputs = json.RawMessage(inputs)
	rec.Working = json.RawMessage(working)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// Checkpoint durably records the flight's status, step cursor, and working
// map snapshot.
func (s *SQLStore) Checkpoint(ctx context.Context, id string, status flight.State, cursor int, working json.RawMessage) error {
	if len(working) == 0 {
		working = json.RawMessage("{}")
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE flight SET status = ?, step_cursor = ?, working = ?, updated_at = ?
		WHERE id = ?`),
		string(status), cursor, string(working), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to checkpoint flight: %w", err)
	}
	return requireFlightRow(res, id)
}

// CompleteFlight records a terminal state and its cause.
func (s *SQLStore) CompleteFlight(ctx context.Context, id string, status flight.State, cause string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE flight SET status = ?, cause = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`),
		string(status), cause, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete flight: %w", err)
	}
	return requireFlightRow(res, id)
}

// SetCause records the original failure before compensation starts.
func (s *SQLStore) SetCause(ctx context.Context, id string, cause string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE flight SET cause = ?, updated_at = ? WHERE id = ?`),
		cause, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set flight cause: %w", err)
	}
	return requireFlightRow(res, id)
}

// RequestCancel sets the cooperative cancellation flag.
func (s *SQLStore) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE flight SET cancel_requested = ?, updated_at = ? WHERE id = ?`),
		true, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to request flight cancellation: %w", err)
	}
	return requireFlightRow(res, id)
}

// CancelRequested reads the cancellation flag.
func (s *SQLStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT cancel_requested FROM flight WHERE id = ?`), id).Scan(&cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("flight %s not found", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancellation flag: %w", err)
	}
	return cancelled, nil
}

// ListResumable returns flights still in a running state, oldest first.
func (s *SQLStore) ListResumable(ctx context.Context) ([]*flight.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, class, status, step_cursor, inputs, working, cause,
		       cancel_requested, created_at, updated_at, completed_at
		FROM flight WHERE status IN (?, ?) ORDER BY created_at`),
		string(flight.StateRunningForward), string(flight.StateRunningBackward))
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable flights: %w", err)
	}
	defer rows.Close()

	var out []*flight.Record
	for rows.Next() {
		var rec flight.Record
		var status, inputs, working string
		var completedAt sql.NullTime
		if err := rows.Scan(
			&rec.ID, &rec.Class, &status, &rec.StepCursor, &inputs, &working,
			&rec.Cause, &rec.CancelRequested, &rec.CreatedAt, &rec.UpdatedAt,
			&completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flight row: %w", err)
		}
		rec.Status = flight.State(status)
		rec.Inputs = json.RawMessage(inputs)
		rec.Working = json.RawMessage(working)
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// AppendFlightLog appends one checkpoint log entry.
func (s *SQLStore) AppendFlightLog(ctx context.Context, entry *flight.LogEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO flight_log (
			id, flight_id, step_index, step_name, direction, status, error, logged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.New().String(), entry.FlightID, entry.StepIndex, entry.StepName,
		entry.Direction, string(entry.Status), entry.Error, entry.LoggedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append flight log: %w", err)
	}
	return nil
}

// GetFlightLog returns a flight's checkpoint log in append order. Not part
// of the Store interface the engine needs; the CLI and tests use it.
func (s *SQLStore) GetFlightLog(ctx context.Context, flightID string) ([]*flight.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT flight_id, step_index, step_name, direction, status, error, logged_at
		FROM flight_log WHERE flight_id = ? ORDER BY logged_at, step_index`), flightID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flight log: %w", err)
	}
	defer rows.Close()

	var out []*flight.LogEntry
	for rows.Next() {
		var e flight.LogEntry
		var status string
		if err := rows.Scan(&e.FlightID, &e.StepIndex, &e.StepName, &e.Direction,
			&status, &e.Error, &e.LoggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flight log row: %w", err)
		}
		e.Status = flight.Status(status)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func requireFlightRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("flight %s not found", id)
	}
	return nil
}
