package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("row not found")
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
)

// Row is a loosely typed record as the hosted store returns it. Values
// are string, int64, bool, time.Time or nil.
type Row map[string]any

// Op is a comparison used in a Cond.
type Op string

const (
	OpEq   Op = "="
	OpIn   Op = "IN"
	OpLike Op = "LIKE"
)

// Cond restricts a query to rows whose Column matches Value under Op.
// For OpIn, Value is a []any.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Cond {
	return Cond{Column: column, Op: OpEq, Value: value}
}

func In(column string, values ...any) Cond {
	return Cond{Column: column, Op: OpIn, Value: values}
}

// Like matches rows whose column contains substr, case-insensitively.
func Like(column, substr string) Cond {
	return Cond{Column: column, Op: OpLike, Value: substr}
}

// Query selects rows from one table. When After is non-zero only rows
// whose cursor column is strictly greater than After are returned.
// OrderBy defaults to the table's cursor column.
type Query struct {
	Table   Table
	Where   []Cond
	After   time.Time
	OrderBy string
	Desc    bool
	Limit   int
}

// RowStore is the request/response contract of the hosted data store.
type RowStore interface {
	FetchRows(ctx context.Context, q Query) ([]Row, error)
	InsertRow(ctx context.Context, table Table, row Row) (Row, error)
	UpdateRow(ctx context.Context, table Table, id string, patch Row) (Row, error)
	DeleteRow(ctx context.Context, table Table, id string) error
	CountRows(ctx context.Context, q Query) (int, error)
	Ping(ctx context.Context) error
}
