package item

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"murmur/api/internal/store"
)

var ErrInvalidRow = errors.New("invalid row")

// TableFor maps a kind to the table its rows live in.
func TableFor(kind Kind) (store.Table, error) {
	switch kind {
	case KindPost:
		return store.TablePosts, nil
	case KindComment:
		return store.TableComments, nil
	case KindMessage:
		return store.TableMessages, nil
	case KindConversation:
		return store.TableConversations, nil
	case KindNotification:
		return store.TableNotifications, nil
	default:
		return "", fmt.Errorf("no table for kind %q", kind)
	}
}

// Post is a home feed row.
type Post struct {
	ID        string
	AuthorID  string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Comment is a comment row; ParentID is empty for top-level comments.
type Comment struct {
	ID        string
	PostID    string
	ParentID  string
	AuthorID  string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	Body           string
	CreatedAt      time.Time
}

type Conversation struct {
	ID              string
	OwnerID         string
	PeerID          string
	Title           string
	LastMessageBody string
	LastMessageAt   time.Time
	CreatedAt       time.Time
}

type Notification struct {
	ID          string
	RecipientID string
	ActorID     string
	Verb        string
	SubjectID   string
	Body        string
	Read        bool
	CreatedAt   time.Time
}

// Like is one user's like of a post or comment. ScopeID is the post a
// liked comment belongs to, so a comment screen can fetch its likes in
// one query.
type Like struct {
	ID          string
	SubjectID   string
	SubjectKind Kind
	ScopeID     string
	UserID      string
	CreatedAt   time.Time
}

// LikeID is the deterministic id of userID's like on subjectID.
func LikeID(subjectID, userID string) string {
	return "like_" + subjectID + "_" + userID
}

func DecodePost(row store.Row) (Post, error) {
	d := decoder{row: row, table: store.TablePosts}
	p := Post{
		ID:        d.requiredString("id"),
		AuthorID:  d.requiredString("author_id"),
		Body:      d.string("body"),
		CreatedAt: d.requiredTime("created_at"),
		UpdatedAt: d.time("updated_at"),
	}
	return p, d.err
}

func DecodeComment(row store.Row) (Comment, error) {
	d := decoder{row: row, table: store.TableComments}
	c := Comment{
		ID:        d.requiredString("id"),
		PostID:    d.requiredString("post_id"),
		ParentID:  d.string("parent_id"),
		AuthorID:  d.requiredString("author_id"),
		Body:      d.string("body"),
		CreatedAt: d.requiredTime("created_at"),
		UpdatedAt: d.time("updated_at"),
	}
	return c, d.err
}

func DecodeMessage(row store.Row) (Message, error) {
	d := decoder{row: row, table: store.TableMessages}
	m := Message{
		ID:             d.requiredString("id"),
		ConversationID: d.requiredString("conversation_id"),
		AuthorID:       d.requiredString("author_id"),
		Body:           d.string("body"),
		CreatedAt:      d.requiredTime("created_at"),
	}
	return m, d.err
}

func DecodeConversation(row store.Row) (Conversation, error) {
	d := decoder{row: row, table: store.TableConversations}
	c := Conversation{
		ID:              d.requiredString("id"),
		OwnerID:         d.requiredString("owner_id"),
		PeerID:          d.string("peer_id"),
		Title:           d.string("title"),
		LastMessageBody: d.string("last_message_body"),
		LastMessageAt:   d.requiredTime("last_message_at"),
		CreatedAt:       d.time("created_at"),
	}
	return c, d.err
}

func DecodeNotification(row store.Row) (Notification, error) {
	d := decoder{row: row, table: store.TableNotifications}
	n := Notification{
		ID:          d.requiredString("id"),
		RecipientID: d.requiredString("recipient_id"),
		ActorID:     d.string("actor_id"),
		Verb:        d.requiredString("verb"),
		SubjectID:   d.string("subject_id"),
		Body:        d.string("body"),
		Read:        d.bool("is_read"),
		CreatedAt:   d.requiredTime("created_at"),
	}
	return n, d.err
}

func DecodeLike(row store.Row) (Like, error) {
	d := decoder{row: row, table: store.TableLikes}
	l := Like{
		ID:          d.requiredString("id"),
		SubjectID:   d.requiredString("subject_id"),
		SubjectKind: Kind(d.requiredString("subject_kind")),
		ScopeID:     d.string("scope_id"),
		UserID:      d.requiredString("user_id"),
		CreatedAt:   d.time("created_at"),
	}
	return l, d.err
}

func (p Post) Item() Item {
	return Item{
		ID:        p.ID,
		Kind:      KindPost,
		AuthorID:  p.AuthorID,
		Body:      p.Body,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (c Comment) Item() Item {
	return Item{
		ID:        c.ID,
		Kind:      KindComment,
		StreamID:  c.PostID,
		ParentID:  c.ParentID,
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (m Message) Item() Item {
	return Item{
		ID:        m.ID,
		Kind:      KindMessage,
		StreamID:  m.ConversationID,
		AuthorID:  m.AuthorID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}

func (c Conversation) Item() Item {
	return Item{
		ID:        c.ID,
		Kind:      KindConversation,
		StreamID:  c.OwnerID,
		AuthorID:  c.PeerID,
		Title:     c.Title,
		Body:      c.LastMessageBody,
		CreatedAt: c.LastMessageAt,
		UpdatedAt: c.LastMessageAt,
	}
}

func (n Notification) Item() Item {
	return Item{
		ID:        n.ID,
		Kind:      KindNotification,
		StreamID:  n.RecipientID,
		AuthorID:  n.ActorID,
		Body:      n.Body,
		CreatedAt: n.CreatedAt,
		Attrs: map[string]string{
			"verb":      n.Verb,
			"subjectId": n.SubjectID,
			"read":      strconv.FormatBool(n.Read),
		},
	}
}

// Decode validates row as a record of kind and normalizes it.
func Decode(kind Kind, row store.Row) (Item, error) {
	switch kind {
	case KindPost:
		p, err := DecodePost(row)
		return p.Item(), err
	case KindComment:
		c, err := DecodeComment(row)
		return c.Item(), err
	case KindMessage:
		m, err := DecodeMessage(row)
		return m.Item(), err
	case KindConversation:
		c, err := DecodeConversation(row)
		return c.Item(), err
	case KindNotification:
		n, err := DecodeNotification(row)
		return n.Item(), err
	default:
		return Item{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRow, kind)
	}
}

// Row converts it into the insert payload for its table.
func (it Item) Row() (store.Row, error) {
	switch it.Kind {
	case KindPost:
		return store.Row{"id": it.ID, "author_id": it.AuthorID, "body": it.Body, "created_at": it.CreatedAt}, nil
	case KindComment:
		var parent any
		if it.ParentID != "" {
			parent = it.ParentID
		}
		return store.Row{"id": it.ID, "post_id": it.StreamID, "parent_id": parent, "author_id": it.AuthorID, "body": it.Body, "created_at": it.CreatedAt}, nil
	case KindMessage:
		return store.Row{"id": it.ID, "conversation_id": it.StreamID, "author_id": it.AuthorID, "body": it.Body, "created_at": it.CreatedAt}, nil
	default:
		return nil, fmt.Errorf("items of kind %q are not written by clients", it.Kind)
	}
}

// PatchRow converts p into an update payload for kind.
func PatchRow(kind Kind, p Patch) store.Row {
	row := store.Row{}
	if p.Body != nil {
		row["body"] = *p.Body
	}
	if p.Title != nil && kind == KindConversation {
		row["title"] = *p.Title
	}
	if kind == KindNotification {
		if read, ok := p.Attrs["read"]; ok {
			row["is_read"] = read == "true"
		}
	}
	return row
}

type decoder struct {
	row   store.Row
	table store.Table
	err   error
}

func (d *decoder) fail(column, problem string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s.%s %s", ErrInvalidRow, d.table, column, problem)
	}
}

func (d *decoder) string(column string) string {
	switch v := d.row[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		d.fail(column, fmt.Sprintf("has type %T", v))
		return ""
	}
}

func (d *decoder) requiredString(column string) string {
	value := d.string(column)
	if strings.TrimSpace(value) == "" {
		d.fail(column, "is empty")
	}
	return value
}

func (d *decoder) time(column string) time.Time {
	switch v := d.row[column].(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			d.fail(column, "is not RFC 3339")
			return time.Time{}
		}
		return parsed.UTC()
	default:
		d.fail(column, fmt.Sprintf("has type %T", v))
		return time.Time{}
	}
}

func (d *decoder) requiredTime(column string) time.Time {
	value := d.time(column)
	if value.IsZero() {
		d.fail(column, "is missing")
	}
	return value
}

func (d *decoder) bool(column string) bool {
	switch v := d.row[column].(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		return v == "true" || v == "t" || v == "1"
	default:
		d.fail(column, fmt.Sprintf("has type %T", v))
		return false
	}
}
