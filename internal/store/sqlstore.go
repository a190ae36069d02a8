package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SQLStore keeps every collection in the content_records table. It serves
// Postgres in production and sqlite for local runs and tests.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ RemoteStore = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Count(ctx context.Context, collection string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM content_records WHERE collection = %s`, s.ph(1))
	var total int
	if err := s.db.QueryRowContext(ctx, query, collection).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return total, nil
}

func (s *SQLStore) Page(ctx context.Context, collection, orderKey string, offset, limit int) ([]Record, error) {
	order, err := orderExpr(orderKey)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Record{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT id, fields, created_at
		FROM content_records
		WHERE collection = %s
		ORDER BY %s DESC, id DESC
		LIMIT %d OFFSET %d
	`, s.ph(1), order, limit, offset)
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", collection, err)
	}
	return scanRecords(rows)
}

func (s *SQLStore) Search(ctx context.Context, collection, field, pattern string, limit int) ([]Record, error) {
	if !ValidField(field) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	if limit <= 0 {
		limit = 5
	}

	query := fmt.Sprintf(`
		SELECT id, fields, created_at
		FROM content_records
		WHERE collection = %s
			AND LOWER(fields->>'%s') LIKE %s
		ORDER BY created_at DESC, id DESC
		LIMIT %d
	`, s.ph(1), field, s.ph(2), limit)
	like := "%" + strings.ToLower(strings.TrimSpace(pattern)) + "%"
	rows, err := s.db.QueryContext(ctx, query, collection, like)
	if err != nil {
		return nil, fmt.Errorf("search %s.%s: %w", collection, field, err)
	}
	return scanRecords(rows)
}

// Insert stores a new record. A zero CreatedAt is set to the current time.
func (s *SQLStore) Insert(ctx context.Context, collection string, item Record) (Record, error) {
	if strings.TrimSpace(item.ID) == "" {
		return Record{}, errors.New("insert record: empty id")
	}
	item = item.Clone()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now().UTC()
	}
	payload, err := json.Marshal(item.Fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal fields: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO content_records (collection, id, fields, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s)
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(4))
	if _, err := s.db.ExecContext(ctx, query, collection, item.ID, string(payload), item.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	return item, nil
}

// Update merges fields into the stored record and returns the result.
func (s *SQLStore) Update(ctx context.Context, collection, id string, fields map[string]any) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback()

	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE"
	}
	selectQuery := fmt.Sprintf(`
		SELECT id, fields, created_at FROM content_records
		WHERE collection = %s AND id = %s%s
	`, s.ph(1), s.ph(2), lock)

	var (
		item Record
		raw  []byte
	)
	err = tx.QueryRowContext(ctx, selectQuery, collection, id).Scan(&item.ID, &raw, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	if item.Fields, err = decodeFields(raw); err != nil {
		return Record{}, err
	}
	for key, value := range fields {
		item.Fields[key] = value
	}

	payload, err := json.Marshal(item.Fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal fields: %w", err)
	}
	updateQuery := fmt.Sprintf(`
		UPDATE content_records SET fields = %s, updated_at = %s
		WHERE collection = %s AND id = %s
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if _, err := tx.ExecContext(ctx, updateQuery, string(payload), s.now().UTC(), collection, id); err != nil {
		return Record{}, fmt.Errorf("update record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit update: %w", err)
	}
	return item, nil
}

// DeleteMany removes the given ids and reports how many rows were deleted.
// Unknown ids are ignored.
func (s *SQLStore) DeleteMany(ctx context.Context, collection string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = s.ph(i + 2)
		args = append(args, id)
	}

	query := fmt.Sprintf(`DELETE FROM content_records WHERE collection = %s AND id IN (%s)`,
		s.ph(1), strings.Join(placeholders, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return int(affected), nil
}

func (s *SQLStore) ph(n int) string {
	return placeholder(s.dialect, n)
}

func placeholder(dialect Dialect, n int) string {
	if dialect == DialectSQLite {
		return "?" + strconv.Itoa(n)
	}
	return "$" + strconv.Itoa(n)
}

func orderExpr(orderKey string) (string, error) {
	switch orderKey {
	case "", "created_at":
		return "created_at", nil
	case "updated_at", "id":
		return orderKey, nil
	}
	if !ValidField(orderKey) {
		return "", fmt.Errorf("%w: %q", ErrInvalidField, orderKey)
	}
	return fmt.Sprintf("fields->>'%s'", orderKey), nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		var (
			item Record
			raw  []byte
		)
		if err := rows.Scan(&item.ID, &raw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", item.ID, err)
		}
		item.Fields = fields
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

func decodeFields(raw []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
