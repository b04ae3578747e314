package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-vdev/internal/chain"
)

// Repository defines the interface for virtual device persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Device CRUD
	GetByID(ctx context.Context, id string) (*Device, error)
	GetBySlug(ctx context.Context, slug string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	Create(ctx context.Context, device *Device) error
	Update(ctx context.Context, device *Device) error
	Delete(ctx context.Context, id string) error

	// Run logging
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, deviceID string, limit int) ([]RunRecord, error)
}

// Run list bounds.
const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// runTimeLayout is fixed-width so that run timestamps sort correctly as text.
const runTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

const deviceColumns = `id, name, slug, description, enabled, transitions, created_at, updated_at`

const runColumns = `id, device_id, transition, trigger_type, trigger_source, status,
			steps_total, failed_step, error_code, error_message,
			started_at, completed_at, duration_ms`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM virtual_devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetBySlug retrieves a device by its slug.
func (r *SQLiteRepository) GetBySlug(ctx context.Context, slug string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM virtual_devices WHERE slug = ?`, slug)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by slug: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM virtual_devices ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, scanErr := scanDevice(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning device: %w", scanErr)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	transitionsJSON, err := marshalTransitions(device.Transitions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO virtual_devices (
			id, name, slug, description, enabled, transitions, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.Name,
		device.Slug,
		nullableString(device.Description),
		boolToInt(device.Enabled),
		transitionsJSON,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	transitionsJSON, err := marshalTransitions(device.Transitions)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE virtual_devices SET
			name = ?, slug = ?, description = ?, enabled = ?, transitions = ?, updated_at = ?
		WHERE id = ?`,
		device.Name,
		device.Slug,
		nullableString(device.Description),
		boolToInt(device.Enabled),
		transitionsJSON,
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return expectOneRow(result, ErrDeviceNotFound)
}

// Delete removes a device by ID. Its run log is removed by cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM virtual_devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return expectOneRow(result, ErrDeviceNotFound)
}

// CreateRun inserts a new run record.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *RunRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chain_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.DeviceID,
		run.Transition,
		run.TriggerType,
		nullableString(run.TriggerSource),
		string(run.Status),
		run.StepsTotal,
		nullableInt(run.FailedStep),
		nullableText(run.ErrorCode),
		nullableText(run.ErrorMessage),
		run.StartedAt.UTC().Format(runTimeLayout),
		nullableTime(run.CompletedAt),
		run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun records the settlement of a run.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *RunRecord) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE chain_runs SET
			status = ?, failed_step = ?, error_code = ?, error_message = ?,
			completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(run.Status),
		nullableInt(run.FailedStep),
		nullableText(run.ErrorCode),
		nullableText(run.ErrorMessage),
		nullableTime(run.CompletedAt),
		run.DurationMS,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return expectOneRow(result, ErrRunNotFound)
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM chain_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs of a device, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, deviceID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM chain_runs
		WHERE device_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var description sql.NullString
	var transitionsJSON string
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Slug,
		&description,
		&enabled,
		&transitionsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		d.Description = &description.String
	}
	d.Enabled = enabled != 0

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		d.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		d.UpdatedAt = t
	}

	// Numbers come back as float64, the same shape the MQTT bus reports.
	if transitionsJSON != "" {
		if jsonErr := json.Unmarshal([]byte(transitionsJSON), &d.Transitions); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling transitions: %w", jsonErr)
		}
	}
	if d.Transitions == nil {
		d.Transitions = map[string]chain.Chain{}
	}
	return &d, nil
}

func scanRun(scanner rowScanner) (*RunRecord, error) {
	var run RunRecord
	var triggerSource, errorCode, errorMessage, completedAt sql.NullString
	var failedStep, durationMS sql.NullInt64
	var status, startedAt string

	err := scanner.Scan(
		&run.ID,
		&run.DeviceID,
		&run.Transition,
		&run.TriggerType,
		&triggerSource,
		&status,
		&run.StepsTotal,
		&failedStep,
		&errorCode,
		&errorMessage,
		&startedAt,
		&completedAt,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if triggerSource.Valid {
		run.TriggerSource = &triggerSource.String
	}
	if failedStep.Valid {
		step := int(failedStep.Int64)
		run.FailedStep = &step
	}
	run.ErrorCode = errorCode.String
	run.ErrorMessage = errorMessage.String

	if t, parseErr := time.Parse(time.RFC3339, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, completedAt.String); parseErr == nil {
			run.CompletedAt = &t
		}
	}
	if durationMS.Valid {
		d := durationMS.Int64
		run.DurationMS = &d
	}
	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalTransitions(transitions map[string]chain.Chain) (string, error) {
	if transitions == nil {
		return "{}", nil
	}
	data, err := json.Marshal(transitions)
	if err != nil {
		return "", fmt.Errorf("marshalling transitions: %w", err)
	}
	return string(data), nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(runTimeLayout), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
