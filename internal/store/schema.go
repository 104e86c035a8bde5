package store

import "fmt"

type Table string

const (
	TablePosts         Table = "posts"
	TableComments      Table = "comments"
	TableMessages      Table = "messages"
	TableConversations Table = "conversations"
	TableNotifications Table = "notifications"
	TableLikes         Table = "likes"
)

type columnType int

const (
	colText columnType = iota
	colInt
	colBool
	colTime
)

type column struct {
	name     string
	typ      columnType
	nullable bool
}

type tableSchema struct {
	columns []column
	// cursor is the timestamp column used for After and default ordering.
	cursor string
}

var schemas = map[Table]tableSchema{
	TablePosts: {
		cursor: "created_at",
		columns: []column{
			{name: "id", typ: colText},
			{name: "author_id", typ: colText},
			{name: "body", typ: colText},
			{name: "created_at", typ: colTime},
			{name: "updated_at", typ: colTime},
		},
	},
	TableComments: {
		cursor: "created_at",
		columns: []column{
			{name: "id", typ: colText},
			{name: "post_id", typ: colText},
			{name: "parent_id", typ: colText, nullable: true},
			{name: "author_id", typ: colText},
			{name: "body", typ: colText},
			{name: "created_at", typ: colTime},
			{name: "updated_at", typ: colTime},
		},
	},
	TableMessages: {
		cursor: "created_at",
		columns: []column{
			{name: "id", typ: colText},
			{name: "conversation_id", typ: colText},
			{name: "author_id", typ: colText},
			{name: "body", typ: colText},
			{name: "created_at", typ: colTime},
		},
	},
	TableConversations: {
		cursor: "last_message_at",
		columns: []column{
			{name: "id", typ: colText},
			{name: "owner_id", typ: colText},
			{name: "peer_id", typ: colText},
			{name: "title", typ: colText},
			{name: "last_message_body", typ: colText},
			{name: "last_message_at", typ: colTime},
			{name: "created_at", typ: colTime},
		},
	},
	TableNotifications: {
		cursor: "created_at",
		columns: []column{
			{name: "id", typ: colText},
			{name: "recipient_id", typ: colText},
			{name: "actor_id", typ: colText},
			{name: "verb", typ: colText},
			{name: "subject_id", typ: colText},
			{name: "body", typ: colText},
			{name: "is_read", typ: colBool},
			{name: "created_at", typ: colTime},
		},
	},
	TableLikes: {
		cursor: "created_at",
		columns: []column{
			{name: "id", typ: colText},
			{name: "subject_id", typ: colText},
			{name: "subject_kind", typ: colText},
			{name: "scope_id", typ: colText},
			{name: "user_id", typ: colText},
			{name: "created_at", typ: colTime},
		},
	},
}

func schemaFor(table Table) (tableSchema, error) {
	schema, ok := schemas[table]
	if !ok {
		return tableSchema{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return schema, nil
}

func (s tableSchema) column(name string) (column, bool) {
	for _, c := range s.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func (s tableSchema) names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.name
	}
	return names
}

// HasColumn reports whether table declares column.
func HasColumn(table Table, name string) bool {
	schema, ok := schemas[table]
	if !ok {
		return false
	}
	_, ok = schema.column(name)
	return ok
}
