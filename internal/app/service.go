package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"murmur/api/internal/clock"
	"murmur/api/internal/config"
	"murmur/api/internal/cursor"
	"murmur/api/internal/item"
	"murmur/api/internal/search"
	"murmur/api/internal/store"
	"murmur/api/internal/syncer"
	"murmur/api/internal/thread"
	"murmur/api/internal/util"
)

type ScreenKind string

const (
	ScreenFeed          ScreenKind = "feed"
	ScreenComments      ScreenKind = "comments"
	ScreenChats         ScreenKind = "chats"
	ScreenConversation  ScreenKind = "conversation"
	ScreenNotifications ScreenKind = "notifications"
)

// ScreenKey identifies one mounted screen. Target is the post of a
// comments screen or the conversation of a conversation screen.
type ScreenKey struct {
	Kind   ScreenKind `json:"kind"`
	Viewer string     `json:"viewer"`
	Target string     `json:"target,omitempty"`
}

func (k ScreenKey) String() string {
	if k.Target == "" {
		return string(k.Kind) + ":" + k.Viewer
	}
	return string(k.Kind) + ":" + k.Viewer + ":" + k.Target
}

type MountInput struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Policy string `json:"policy"`
	Paused bool   `json:"paused"`
}

// ActionInput is a client action against a screen. Which fields matter
// depends on Kind; see syncer.Action.
type ActionInput struct {
	Kind     string  `json:"kind"`
	ID       string  `json:"id"`
	ParentID string  `json:"parentId"`
	Title    *string `json:"title"`
	Body     *string `json:"body"`
	Read     *bool   `json:"read"`
	Flag     string  `json:"flag"`
	On       bool    `json:"on"`
}

type Mounted struct {
	ID       string          `json:"id"`
	Key      ScreenKey       `json:"key"`
	Refs     int             `json:"refs"`
	Snapshot syncer.Snapshot `json:"snapshot"`
}

type screen struct {
	id     string
	key    ScreenKey
	stream *syncer.Stream
	refs   int
}

type Service struct {
	cfg     config.Config
	store   store.RowStore
	cursors cursor.Store
	search  *search.Service
	clock   clock.Clock
	writer  *syncer.StoreWriter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	screens map[string]*screen
	byKey   map[ScreenKey]string
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New wires the screen registry. searchService may be nil.
func New(cfg config.Config, rowStore store.RowStore, cursors cursor.Store, searchService *search.Service, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:     cfg,
		store:   rowStore,
		cursors: cursors,
		search:  searchService,
		clock:   clock.Real(),
		ctx:     ctx,
		cancel:  cancel,
		screens: make(map[string]*screen),
		byKey:   make(map[ScreenKey]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cursors == nil {
		s.cursors = cursor.NewMemoryStore()
	}
	var index syncer.Indexer
	if s.search != nil {
		index = s.search
	}
	s.writer = syncer.NewStoreWriter(rowStore, s.clock, index)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("row store: %w", err)
	}
	if err := s.cursors.Ping(ctx); err != nil {
		return fmt.Errorf("cursor store: %w", err)
	}
	return nil
}

// Mount returns the screen for viewer and in, creating and starting its
// stream on first use. Mounting an existing screen with a policy applies
// it. Every Mount must be paired with an Unmount.
func (s *Service) Mount(viewer string, in MountInput) (Mounted, error) {
	if strings.TrimSpace(viewer) == "" {
		return Mounted{}, errMissingUser
	}
	key := ScreenKey{Kind: ScreenKind(in.Kind), Viewer: viewer, Target: strings.TrimSpace(in.Target)}
	policy, err := thread.ParsePolicy(in.Policy)
	if err != nil {
		return Mounted{}, domainError(http.StatusBadRequest, "INVALID_POLICY", err.Error(), nil)
	}

	s.mu.Lock()
	if id, ok := s.byKey[key]; ok {
		scr := s.screens[id]
		scr.refs++
		s.mu.Unlock()
		// Screens are shared; an explicit policy re-sorts for every holder.
		if strings.TrimSpace(in.Policy) != "" {
			scr.stream.SetPolicy(policy)
		}
		return mounted(scr), nil
	}

	stream, err := s.newStream(key, policy)
	if err != nil {
		s.mu.Unlock()
		return Mounted{}, err
	}
	scr := &screen{id: util.NewID("scr"), key: key, stream: stream, refs: 1}
	s.screens[scr.id] = scr
	s.byKey[key] = scr.id
	s.mu.Unlock()

	if !in.Paused {
		stream.Start(s.ctx)
	}
	log.Printf("app: mounted %s as %s", key, scr.id)
	return mounted(scr), nil
}

func mounted(scr *screen) Mounted {
	return Mounted{ID: scr.id, Key: scr.key, Refs: scr.refs, Snapshot: scr.stream.Snapshot()}
}

func (s *Service) newStream(key ScreenKey, policy thread.Policy) (*syncer.Stream, error) {
	cfg := syncer.Config{
		Name:        key.String(),
		Policy:      policy,
		Writer:      s.writer,
		Clock:       s.clock,
		SkipOverlap: s.cfg.SkipOverlap,
	}
	needsTarget := func() error {
		if key.Target == "" {
			return domainError(http.StatusBadRequest, "MISSING_TARGET", fmt.Sprintf("%s screens need a target", key.Kind), nil)
		}
		return nil
	}

	switch key.Kind {
	case ScreenFeed:
		cfg.Interval = s.cfg.Poll.Feed
		cfg.Source = syncer.FeedSource{Store: s.store, Viewer: key.Viewer, Limit: s.cfg.FeedLimit}
	case ScreenComments:
		if err := needsTarget(); err != nil {
			return nil, err
		}
		cfg.Interval = s.cfg.Poll.Comments
		cfg.Source = syncer.CommentSource{Store: s.store, PostID: key.Target, Viewer: key.Viewer}
	case ScreenChats:
		cfg.Interval = s.cfg.Poll.Chats
		cfg.Source = syncer.ChatListSource{Store: s.store, Owner: key.Viewer}
	case ScreenConversation:
		if err := needsTarget(); err != nil {
			return nil, err
		}
		cfg.Mode = syncer.ModeAppend
		cfg.Interval = s.cfg.Poll.Conversation
		cfg.Source = syncer.MessageSource{Store: s.store, ConversationID: key.Target}
	case ScreenNotifications:
		cfg.Interval = s.cfg.Poll.Notifications
		cfg.Source = syncer.NotificationSource{Store: s.store, Recipient: key.Viewer}
	default:
		return nil, domainError(http.StatusBadRequest, "INVALID_SCREEN", fmt.Sprintf("unknown screen kind %q", key.Kind), nil)
	}
	return syncer.New(cfg), nil
}

// Unmount drops one reference to the screen and closes its stream when
// none remain. It reports whether the stream was closed.
func (s *Service) Unmount(viewer, id string) (bool, error) {
	s.mu.Lock()
	scr, err := s.screenLocked(viewer, id)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	scr.refs--
	if scr.refs > 0 {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.screens, id)
	delete(s.byKey, scr.key)
	s.mu.Unlock()

	scr.stream.Close()
	log.Printf("app: unmounted %s", scr.key)
	return true, nil
}

func (s *Service) screenLocked(viewer, id string) (*screen, error) {
	scr, ok := s.screens[id]
	if !ok || scr.key.Viewer != viewer {
		return nil, errScreenNotFound
	}
	return scr, nil
}

func (s *Service) stream(viewer, id string) (*screen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenLocked(viewer, id)
}

func (s *Service) Snapshot(viewer, id string) (syncer.Snapshot, error) {
	scr, err := s.stream(viewer, id)
	if err != nil {
		return syncer.Snapshot{}, err
	}
	return scr.stream.Snapshot(), nil
}

func (s *Service) Status(viewer, id string) (syncer.Status, error) {
	scr, err := s.stream(viewer, id)
	if err != nil {
		return syncer.Status{}, err
	}
	return scr.stream.Status(), nil
}

// Streams lists the status of every mounted screen, by name.
func (s *Service) Streams() []syncer.Status {
	s.mu.Lock()
	streams := make([]*syncer.Stream, 0, len(s.screens))
	for _, scr := range s.screens {
		streams = append(streams, scr.stream)
	}
	s.mu.Unlock()

	out := make([]syncer.Status, 0, len(streams))
	for _, st := range streams {
		out = append(out, st.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

func (s *Service) SetPolling(viewer, id string, enabled bool) (syncer.Status, error) {
	scr, err := s.stream(viewer, id)
	if err != nil {
		return syncer.Status{}, err
	}
	if enabled {
		scr.stream.Start(s.ctx)
	} else {
		scr.stream.Stop()
	}
	return scr.stream.Status(), nil
}

func (s *Service) SetPolicy(viewer, id, value string) (syncer.Snapshot, error) {
	scr, err := s.stream(viewer, id)
	if err != nil {
		return syncer.Snapshot{}, err
	}
	policy, err := thread.ParsePolicy(value)
	if err != nil {
		return syncer.Snapshot{}, domainError(http.StatusBadRequest, "INVALID_POLICY", err.Error(), nil)
	}
	scr.stream.SetPolicy(policy)
	return scr.stream.Snapshot(), nil
}

// Refresh runs one tick of the screen's stream now.
func (s *Service) Refresh(ctx context.Context, viewer, id string) (syncer.Snapshot, error) {
	scr, err := s.stream(viewer, id)
	if err != nil {
		return syncer.Snapshot{}, err
	}
	if err := scr.stream.Refresh(ctx); err != nil {
		return syncer.Snapshot{}, domainError(http.StatusBadGateway, "FETCH_FAILED", "Could not refresh", map[string]any{"reason": err.Error()})
	}
	return scr.stream.Snapshot(), nil
}

// Submit applies an action to a screen and writes it through.
func (s *Service) Submit(ctx context.Context, viewer, id string, in ActionInput) (syncer.Snapshot, error) {
	scr, err := s.stream(viewer, id)
	if err != nil {
		return syncer.Snapshot{}, err
	}
	action, err := buildAction(scr.key, in)
	if err != nil {
		return syncer.Snapshot{}, err
	}
	if err := scr.stream.Submit(ctx, action); err != nil {
		return scr.stream.Snapshot(), err
	}
	return scr.stream.Snapshot(), nil
}

func buildAction(key ScreenKey, in ActionInput) (syncer.Action, error) {
	kind, err := syncer.ParseActionKind(in.Kind)
	if err != nil {
		return syncer.Action{}, err
	}
	a := syncer.Action{Kind: kind, ID: in.ID, UserID: key.Viewer, Flag: in.Flag, On: in.On}

	switch kind {
	case syncer.ActionAdd:
		if in.Body == nil || strings.TrimSpace(*in.Body) == "" {
			return syncer.Action{}, domainError(http.StatusBadRequest, "EMPTY_BODY", "body is required", nil)
		}
		it := item.Item{ID: in.ID, AuthorID: key.Viewer, Body: *in.Body}
		switch key.Kind {
		case ScreenFeed:
			it.Kind = item.KindPost
		case ScreenComments:
			it.Kind = item.KindComment
			it.StreamID = key.Target
			it.ParentID = in.ParentID
		case ScreenConversation:
			it.Kind = item.KindMessage
			it.StreamID = key.Target
		default:
			return syncer.Action{}, fmt.Errorf("%w: cannot add to %s", syncer.ErrInvalidAction, key.Kind)
		}
		a.Item = it
	case syncer.ActionEdit:
		a.Patch = item.Patch{Title: in.Title, Body: in.Body}
		if in.Read != nil {
			a.Patch.Attrs = map[string]string{"read": strconv.FormatBool(*in.Read)}
		}
	}
	return a, nil
}

// MarkSeen advances the viewer's read marker for a stream.
func (s *Service) MarkSeen(ctx context.Context, viewer, stream string, at time.Time) (time.Time, error) {
	if strings.TrimSpace(viewer) == "" {
		return time.Time{}, errMissingUser
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	return s.cursors.MarkSeen(ctx, viewer, stream, at)
}

// Unread counts the viewer's notifications created after their
// notifications read marker.
func (s *Service) Unread(ctx context.Context, viewer string) (int, time.Time, error) {
	if strings.TrimSpace(viewer) == "" {
		return 0, time.Time{}, errMissingUser
	}
	seen, err := s.cursors.Seen(ctx, viewer, string(ScreenNotifications))
	if err != nil {
		return 0, time.Time{}, err
	}
	n, err := s.store.CountRows(ctx, store.Query{
		Table: store.TableNotifications,
		Where: []store.Cond{store.Eq("recipient_id", viewer)},
		After: seen,
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count unread: %w", err)
	}
	return n, seen, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Engine: "none"}
	}
	return s.search.Search(ctx, q)
}

// Close unmounts every screen.
func (s *Service) Close() {
	s.mu.Lock()
	screens := make([]*screen, 0, len(s.screens))
	for id, scr := range s.screens {
		screens = append(screens, scr)
		delete(s.screens, id)
		delete(s.byKey, scr.key)
	}
	s.mu.Unlock()

	s.cancel()
	for _, scr := range screens {
		scr.stream.Close()
		scr.stream.Wait()
	}
}
