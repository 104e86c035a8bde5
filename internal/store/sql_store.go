package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore implements RowStore over database/sql for Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) FetchRows(ctx context.Context, q Query) ([]Row, error) {
	schema, err := schemaFor(q.Table)
	if err != nil {
		return nil, err
	}
	where, args, err := s.whereClause(schema, q)
	if err != nil {
		return nil, err
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = schema.cursor
	}
	if _, ok := schema.column(orderBy); !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, q.Table, orderBy)
	}
	direction := "ASC"
	if q.Desc {
		direction = "DESC"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s ORDER BY %s %s, id %s", strings.Join(schema.names(), ", "), q.Table, where, orderBy, direction, direction)
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Table, err)
	}
	defer rows.Close()

	items := make([]Row, 0)
	for rows.Next() {
		item, err := s.scanRow(schema, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Table, err)
	}
	return items, nil
}

func (s *SQLStore) CountRows(ctx context.Context, q Query) (int, error) {
	schema, err := schemaFor(q.Table)
	if err != nil {
		return 0, err
	}
	where, args, err := s.whereClause(schema, q)
	if err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.Table, where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Table, err)
	}
	return count, nil
}

func (s *SQLStore) InsertRow(ctx context.Context, table Table, row Row) (Row, error) {
	schema, err := schemaFor(table)
	if err != nil {
		return nil, err
	}
	if id, _ := row["id"].(string); strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("insert %s: missing id", table)
	}

	values := make(Row, len(row)+2)
	for k, v := range row {
		values[k] = v
	}
	now := s.now().UTC()
	for _, c := range schema.columns {
		if c.typ != colTime {
			continue
		}
		if t, ok := values[c.name].(time.Time); !ok || t.IsZero() {
			if !c.nullable {
				values[c.name] = now
			}
		}
	}

	names := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, c := range schema.columns {
		value, ok := values[c.name]
		if !ok {
			continue
		}
		encoded, err := s.dialect.encode(c.typ, value)
		if err != nil {
			return nil, fmt.Errorf("insert %s.%s: %w", table, c.name, err)
		}
		names = append(names, c.name)
		args = append(args, encoded)
		placeholders = append(placeholders, s.dialect.placeholder(len(args)))
	}
	if err := rejectUnknown(table, schema, values); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "), strings.Join(schema.names(), ", "))
	inserted, err := s.scanRow(schema, s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return inserted, nil
}

func (s *SQLStore) UpdateRow(ctx context.Context, table Table, id string, patch Row) (Row, error) {
	schema, err := schemaFor(table)
	if err != nil {
		return nil, err
	}
	if err := rejectUnknown(table, schema, patch); err != nil {
		return nil, err
	}
	values := make(Row, len(patch)+1)
	for k, v := range patch {
		if k == "id" {
			continue
		}
		values[k] = v
	}
	if _, ok := schema.column("updated_at"); ok {
		if _, set := values["updated_at"]; !set {
			values["updated_at"] = s.now().UTC()
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("update %s: empty patch", table)
	}

	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+1)
	for _, c := range schema.columns {
		value, ok := values[c.name]
		if !ok {
			continue
		}
		encoded, err := s.dialect.encode(c.typ, value)
		if err != nil {
			return nil, fmt.Errorf("update %s.%s: %w", table, c.name, err)
		}
		args = append(args, encoded)
		sets = append(sets, c.name+" = "+s.dialect.placeholder(len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s RETURNING %s",
		table, strings.Join(sets, ", "), s.dialect.placeholder(len(args)), strings.Join(schema.names(), ", "))

	updated, err := s.scanRow(schema, s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return updated, nil
}

func (s *SQLStore) DeleteRow(ctx context.Context, table Table, id string) error {
	if _, err := schemaFor(table); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, s.dialect.placeholder(1)), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s rows: %w", table, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete %s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) whereClause(schema tableSchema, q Query) (string, []any, error) {
	clauses := make([]string, 0, len(q.Where)+1)
	args := make([]any, 0, len(q.Where)+1)

	for _, cond := range q.Where {
		c, ok := schema.column(cond.Column)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, q.Table, cond.Column)
		}
		switch cond.Op {
		case OpEq, "":
			if cond.Value == nil {
				clauses = append(clauses, c.name+" IS NULL")
				continue
			}
			encoded, err := s.dialect.encode(c.typ, cond.Value)
			if err != nil {
				return "", nil, fmt.Errorf("filter %s.%s: %w", q.Table, c.name, err)
			}
			args = append(args, encoded)
			clauses = append(clauses, c.name+" = "+s.dialect.placeholder(len(args)))
		case OpIn:
			values, _ := cond.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := make([]string, 0, len(values))
			for _, v := range values {
				encoded, err := s.dialect.encode(c.typ, v)
				if err != nil {
					return "", nil, fmt.Errorf("filter %s.%s: %w", q.Table, c.name, err)
				}
				args = append(args, encoded)
				marks = append(marks, s.dialect.placeholder(len(args)))
			}
			clauses = append(clauses, c.name+" IN ("+strings.Join(marks, ", ")+")")
		case OpLike:
			substr, _ := cond.Value.(string)
			args = append(args, "%"+escapeLike(substr)+"%")
			clauses = append(clauses, fmt.Sprintf("%s %s %s ESCAPE '\\'", c.name, s.dialect.likeOperator(), s.dialect.placeholder(len(args))))
		default:
			return "", nil, fmt.Errorf("filter %s.%s: unsupported op %q", q.Table, c.name, cond.Op)
		}
	}

	if !q.After.IsZero() {
		encoded, err := s.dialect.encode(colTime, q.After)
		if err != nil {
			return "", nil, err
		}
		args = append(args, encoded)
		clauses = append(clauses, schema.cursor+" > "+s.dialect.placeholder(len(args)))
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanRow(schema tableSchema, src scanner) (Row, error) {
	raw := make([]any, len(schema.columns))
	dest := make([]any, len(schema.columns))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := src.Scan(dest...); err != nil {
		return nil, err
	}
	row := make(Row, len(schema.columns))
	for i, c := range schema.columns {
		value, err := s.dialect.decode(c.typ, raw[i])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.name, err)
		}
		row[c.name] = value
	}
	return row, nil
}

func rejectUnknown(table Table, schema tableSchema, values Row) error {
	for name := range values {
		if _, ok := schema.column(name); !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
		}
	}
	return nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
