package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pzron/ecom-sub001/internal/api/domain"
	core "github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/pkg/database"
	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the repository's schema.
func Migrate(ctx context.Context, db database.DBTX, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return database.RunMigrations(ctx, db, sub, logger)
}

const recordColumns = `id, user_id, kind, product_id, quantity, product, created_at, updated_at`

// RecordRepository implements repository.RecordRepository using PostgreSQL.
type RecordRepository struct {
	db     database.DBTX
	tracer *database.QueryTracer
}

// NewRecordRepository creates a new PostgreSQL-backed record repository.
func NewRecordRepository(db database.DBTX, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{
		db:     db,
		tracer: database.NewQueryTracer("postgresql", 200*time.Millisecond, logger),
	}
}

// Create inserts the record. ON CONFLICT DO NOTHING makes a repeated create
// for the same product return the existing row.
func (r *RecordRepository) Create(ctx context.Context, rec *domain.Record) (_ *domain.Record, _ bool, err error) {
	query := `
		INSERT INTO collection_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, kind, product_id) DO NOTHING
		RETURNING id`

	ctx, end := r.tracer.Trace(ctx, "CreateRecord", query)
	defer func() { end(err) }()

	product, err := json.Marshal(rec.Product)
	if err != nil {
		return nil, false, fmt.Errorf("marshal product: %w", err)
	}

	var id string
	err = r.db.QueryRow(ctx, query,
		rec.ID, rec.UserID, string(rec.Kind), rec.ProductID, rec.Quantity, product, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&id)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create record: %w", err)
	}

	existing, err := r.getByProduct(ctx, rec.Kind, rec.UserID, rec.ProductID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RecordRepository) getByProduct(ctx context.Context, kind core.Kind, userID, productID string) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM collection_records WHERE user_id = $1 AND kind = $2 AND product_id = $3`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, userID, string(kind), productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(string(kind)+" record for product", productID)
		}
		return nil, fmt.Errorf("get record by product: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by id.
func (r *RecordRepository) Get(ctx context.Context, kind core.Kind, userID, recordID string) (_ *domain.Record, err error) {
	query := `SELECT ` + recordColumns + ` FROM collection_records WHERE id = $1 AND user_id = $2 AND kind = $3`

	ctx, end := r.tracer.Trace(ctx, "GetRecord", query)
	defer func() { end(err) }()

	rec, err := scanRecord(r.db.QueryRow(ctx, query, recordID, userID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(string(kind)+" record", recordID)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// UpdateQuantity sets the quantity and returns the updated row.
func (r *RecordRepository) UpdateQuantity(ctx context.Context, kind core.Kind, userID, recordID string, quantity int) (_ *domain.Record, err error) {
	query := `
		UPDATE collection_records
		SET quantity = $4, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND kind = $3
		RETURNING ` + recordColumns

	ctx, end := r.tracer.Trace(ctx, "UpdateRecordQuantity", query)
	defer func() { end(err) }()

	rec, err := scanRecord(r.db.QueryRow(ctx, query, recordID, userID, string(kind), quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(string(kind)+" record", recordID)
		}
		return nil, fmt.Errorf("update record quantity: %w", err)
	}
	return rec, nil
}

// Delete removes the record and returns the deleted row.
func (r *RecordRepository) Delete(ctx context.Context, kind core.Kind, userID, recordID string) (_ *domain.Record, err error) {
	query := `
		DELETE FROM collection_records
		WHERE id = $1 AND user_id = $2 AND kind = $3
		RETURNING ` + recordColumns

	ctx, end := r.tracer.Trace(ctx, "DeleteRecord", query)
	defer func() { end(err) }()

	rec, err := scanRecord(r.db.QueryRow(ctx, query, recordID, userID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(string(kind)+" record", recordID)
		}
		return nil, fmt.Errorf("delete record: %w", err)
	}
	return rec, nil
}

// List returns the user's records oldest first.
func (r *RecordRepository) List(ctx context.Context, kind core.Kind, userID string) (_ []*domain.Record, err error) {
	query := `
		SELECT ` + recordColumns + `
		FROM collection_records
		WHERE user_id = $1 AND kind = $2
		ORDER BY created_at, id`

	ctx, end := r.tracer.Trace(ctx, "ListRecords", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, userID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []*domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		rec     domain.Record
		kind    string
		product []byte
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &kind, &rec.ProductID, &rec.Quantity, &product, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Kind = core.Kind(kind)
	if len(product) > 0 {
		if err := json.Unmarshal(product, &rec.Product); err != nil {
			return nil, fmt.Errorf("unmarshal product: %w", err)
		}
	}
	return &rec, nil
}
