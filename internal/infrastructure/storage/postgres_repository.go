package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

const (
	batchesTable  = "relist_batches"
	itemsTable    = "relist_batch_items"
	listingsTable = "listings"

	uniqueViolation = "23505"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var batchColumns = []string{
	"id", "name", "status", "total_count", "completed_count", "failed_count",
	"scheduled_at", "created_at", "started_at", "completed_at",
}

var itemColumns = []string{
	"id", "batch_id", "listing_id", "position", "status", "remove_status", "upload_status",
	"modified_price", "modified_rent", "error_message", "retry_count",
	"remove_started_at", "remove_completed_at", "upload_started_at", "upload_completed_at", "created_at",
}

const schema = `
CREATE TABLE IF NOT EXISTS relist_batches (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    status          TEXT NOT NULL,
    total_count     INTEGER NOT NULL,
    completed_count INTEGER NOT NULL DEFAULT 0,
    failed_count    INTEGER NOT NULL DEFAULT 0,
    scheduled_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS relist_batches_due_idx ON relist_batches (status, scheduled_at);
CREATE TABLE IF NOT EXISTS relist_batch_items (
    id                  TEXT PRIMARY KEY,
    batch_id            TEXT NOT NULL REFERENCES relist_batches (id) ON DELETE CASCADE,
    listing_id          TEXT NOT NULL,
    position            INTEGER NOT NULL,
    status              TEXT NOT NULL,
    remove_status       TEXT NOT NULL,
    upload_status       TEXT NOT NULL,
    modified_price      BIGINT,
    modified_rent       BIGINT,
    error_message       TEXT,
    retry_count         INTEGER NOT NULL DEFAULT 0,
    remove_started_at   TIMESTAMPTZ,
    remove_completed_at TIMESTAMPTZ,
    upload_started_at   TIMESTAMPTZ,
    upload_completed_at TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS relist_batch_items_batch_idx ON relist_batch_items (batch_id, position);
CREATE TABLE IF NOT EXISTS listings (
    id                TEXT PRIMARY KEY,
    article_no        TEXT NOT NULL DEFAULT '',
    representative_id TEXT NOT NULL DEFAULT '',
    title             TEXT NOT NULL DEFAULT '',
    trade_type        TEXT NOT NULL DEFAULT '',
    price_text        TEXT NOT NULL DEFAULT '',
    rent_text         TEXT NOT NULL DEFAULT ''
);`

// OpenPostgres opens a database/sql handle backed by the pgx driver.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresRepository persists batches, items and listing snapshots into Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var (
	_ ports.BatchRepository   = (*PostgresRepository)(nil)
	_ ports.ListingRepository = (*PostgresRepository)(nil)
)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateBatch(ctx context.Context, batch domain.Batch, items []domain.BatchItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := insertBatchQuery(batch).ToSql()
	if err != nil {
		return fmt.Errorf("build insert batch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("batch %s already exists: %w", batch.ID, err)
		}
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, chunk := range itemChunks(items, itemInsertChunk) {
		query, args, err = insertItemsQuery(chunk).ToSql()
		if err != nil {
			return fmt.Errorf("build insert items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindBatch(ctx context.Context, id string) (domain.Batch, error) {
	query, args, err := psql.Select(batchColumns...).From(batchesTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Batch{}, fmt.Errorf("build find batch: %w", err)
	}

	batch, err := scanBatch(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Batch{}, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("find batch: %w", err)
	}
	return batch, nil
}

func (r *PostgresRepository) FindAllBatches(ctx context.Context) ([]domain.Batch, error) {
	return r.queryBatches(ctx, psql.Select(batchColumns...).From(batchesTable).OrderBy("created_at DESC", "id"))
}

func (r *PostgresRepository) FindDueBatches(ctx context.Context, now time.Time) ([]domain.Batch, error) {
	return r.queryBatches(ctx, dueBatchesQuery(now))
}

func (r *PostgresRepository) FindItems(ctx context.Context, batchID string) ([]domain.BatchItem, error) {
	query, args, err := psql.Select(itemColumns...).
		From(itemsTable).
		Where(sq.Eq{"batch_id": batchID}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find items: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []domain.BatchItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) UpdateBatchStatus(ctx context.Context, batch domain.Batch) error {
	return r.execUpdate(ctx, "batch "+batch.ID, psql.Update(batchesTable).
		Set("status", string(batch.Status)).
		Set("completed_count", batch.CompletedCount).
		Set("failed_count", batch.FailedCount).
		Set("scheduled_at", batch.ScheduledAt).
		Set("started_at", batch.StartedAt).
		Set("completed_at", batch.CompletedAt).
		Where(sq.Eq{"id": batch.ID}))
}

func (r *PostgresRepository) UpdateBatchProgress(ctx context.Context, batchID string, completed, failed int) error {
	return r.execUpdate(ctx, "batch "+batchID, psql.Update(batchesTable).
		Set("completed_count", completed).
		Set("failed_count", failed).
		Where(sq.Eq{"id": batchID}))
}

func (r *PostgresRepository) UpdateItem(ctx context.Context, item domain.BatchItem) error {
	return r.execUpdate(ctx, "item "+item.ID, updateItemQuery(item))
}

func (r *PostgresRepository) DeleteBatch(ctx context.Context, id string) error {
	query, args, err := psql.Delete(batchesTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete batch: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return expectRow(res, "batch "+id)
}

func (r *PostgresRepository) FindListings(ctx context.Context, ids []string) (map[string]domain.Listing, error) {
	out := make(map[string]domain.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := listingsQuery(ids).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find listings: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var l domain.Listing
		if err := rows.Scan(&l.ID, &l.ArticleNo, &l.RepresentativeID, &l.Title, &l.TradeType, &l.PriceText, &l.RentText); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out[l.ID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// SaveListings upserts listing snapshots.
func (r *PostgresRepository) SaveListings(ctx context.Context, listings ...domain.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	query, args, err := upsertListingsQuery(listings).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert listings: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert listings: %w", err)
	}
	return nil
}

func (r *PostgresRepository) queryBatches(ctx context.Context, builder sq.SelectBuilder) ([]domain.Batch, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batches query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []domain.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return batches, nil
}

func (r *PostgresRepository) execUpdate(ctx context.Context, what string, builder sq.UpdateBuilder) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build update %s: %w", what, err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	return expectRow(res, what)
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

func insertBatchQuery(batch domain.Batch) sq.InsertBuilder {
	return psql.Insert(batchesTable).Columns(batchColumns...).Values(
		batch.ID, batch.Name, string(batch.Status), batch.TotalCount, batch.CompletedCount, batch.FailedCount,
		batch.ScheduledAt, batch.CreatedAt, batch.StartedAt, batch.CompletedAt,
	)
}

// itemInsertChunk keeps a multi-row insert under the 65535 bind parameter limit.
const itemInsertChunk = 1000

func itemChunks(items []domain.BatchItem, size int) [][]domain.BatchItem {
	var chunks [][]domain.BatchItem
	for len(items) > 0 {
		n := min(size, len(items))
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}

func insertItemsQuery(items []domain.BatchItem) sq.InsertBuilder {
	builder := psql.Insert(itemsTable).Columns(itemColumns...)
	for _, item := range items {
		builder = builder.Values(
			item.ID, item.BatchID, item.ListingID, item.Position,
			string(item.Status), string(item.RemoveStatus), string(item.UploadStatus),
			item.ModifiedPrice, item.ModifiedRent, item.ErrorMessage, item.RetryCount,
			item.RemoveStartedAt, item.RemoveCompletedAt, item.UploadStartedAt, item.UploadCompletedAt, item.CreatedAt,
		)
	}
	return builder
}

func updateItemQuery(item domain.BatchItem) sq.UpdateBuilder {
	return psql.Update(itemsTable).
		Set("status", string(item.Status)).
		Set("remove_status", string(item.RemoveStatus)).
		Set("upload_status", string(item.UploadStatus)).
		Set("modified_price", item.ModifiedPrice).
		Set("modified_rent", item.ModifiedRent).
		Set("error_message", item.ErrorMessage).
		Set("retry_count", item.RetryCount).
		Set("remove_started_at", item.RemoveStartedAt).
		Set("remove_completed_at", item.RemoveCompletedAt).
		Set("upload_started_at", item.UploadStartedAt).
		Set("upload_completed_at", item.UploadCompletedAt).
		Where(sq.Eq{"id": item.ID, "batch_id": item.BatchID})
}

func dueBatchesQuery(now time.Time) sq.SelectBuilder {
	return psql.Select(batchColumns...).
		From(batchesTable).
		Where(sq.Eq{"status": string(domain.BatchScheduled)}).
		Where(sq.LtOrEq{"scheduled_at": now}).
		OrderBy("scheduled_at")
}

func listingsQuery(ids []string) sq.SelectBuilder {
	return psql.Select("id", "article_no", "representative_id", "title", "trade_type", "price_text", "rent_text").
		From(listingsTable).
		Where("id = ANY(?)", pq.Array(ids))
}

func upsertListingsQuery(listings []domain.Listing) sq.InsertBuilder {
	builder := psql.Insert(listingsTable).
		Columns("id", "article_no", "representative_id", "title", "trade_type", "price_text", "rent_text")
	for _, l := range listings {
		builder = builder.Values(l.ID, l.ArticleNo, l.RepresentativeID, l.Title, l.TradeType, l.PriceText, l.RentText)
	}
	return builder.Suffix(`ON CONFLICT (id) DO UPDATE
              SET article_no = EXCLUDED.article_no,
                  representative_id = EXCLUDED.representative_id,
                  title = EXCLUDED.title,
                  trade_type = EXCLUDED.trade_type,
                  price_text = EXCLUDED.price_text,
                  rent_text = EXCLUDED.rent_text`)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (domain.Batch, error) {
	var (
		b      domain.Batch
		status string
	)
	err := row.Scan(&b.ID, &b.Name, &status, &b.TotalCount, &b.CompletedCount, &b.FailedCount,
		&b.ScheduledAt, &b.CreatedAt, &b.StartedAt, &b.CompletedAt)
	if err != nil {
		return domain.Batch{}, err
	}
	b.Status = domain.BatchStatus(status)
	return b, nil
}

func scanItem(row rowScanner) (domain.BatchItem, error) {
	var (
		item                 domain.BatchItem
		status, remove, upld string
	)
	err := row.Scan(&item.ID, &item.BatchID, &item.ListingID, &item.Position, &status, &remove, &upld,
		&item.ModifiedPrice, &item.ModifiedRent, &item.ErrorMessage, &item.RetryCount,
		&item.RemoveStartedAt, &item.RemoveCompletedAt, &item.UploadStartedAt, &item.UploadCompletedAt, &item.CreatedAt)
	if err != nil {
		return domain.BatchItem{}, err
	}
	item.Status = domain.ItemStatus(status)
	item.RemoveStatus = domain.StepStatus(remove)
	item.UploadStatus = domain.StepStatus(upld)
	return item, nil
}
