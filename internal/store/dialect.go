package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects placeholder syntax and value encoding for a backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) likeOperator() string {
	if d == DialectPostgres {
		return "ILIKE"
	}
	return "LIKE"
}

// encode converts a Go value into the representation stored for typ.
// SQLite keeps timestamps as unix microseconds and booleans as 0/1.
func (d Dialect) encode(typ columnType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch typ {
	case colTime:
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", value)
		}
		if t.IsZero() {
			return nil, nil
		}
		if d == DialectSQLite {
			return t.UTC().UnixMicro(), nil
		}
		return t.UTC(), nil
	case colBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		if d == DialectSQLite {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return b, nil
	case colInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}
	default:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil
	}
}

// decode normalizes a scanned driver value into the Row representation.
func (d Dialect) decode(typ columnType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	switch typ {
	case colTime:
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case int64:
			return time.UnixMicro(v).UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("parse timestamp %q: %w", v, err)
			}
			return parsed.UTC(), nil
		}
	case colBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case string:
			return v == "1" || strings.EqualFold(v, "true") || v == "t", nil
		}
	case colInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	default:
		switch v := value.(type) {
		case string:
			return v, nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		}
	}
	return nil, fmt.Errorf("unexpected %T for column", value)
}
