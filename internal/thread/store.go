// Package thread implements the append-only message threads the chatbot
// reads from and replies to. Threads live entirely in the KV store.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/pkg/models"
)

// Store reads and writes threads in the KV store.
type Store struct {
	kv  kv.Store
	log *slog.Logger
	now func() time.Time
}

// NewStore creates a thread store over the given KV backend.
func NewStore(store kv.Store) *Store {
	return &Store{
		kv:  store,
		log: slog.With("component", "thread"),
		now: time.Now,
	}
}

// Create makes a new thread in the workspace and registers it in the
// workspace's thread index.
func (s *Store) Create(ctx context.Context, workspace, title string) (*models.ThreadInfo, error) {
	info := &models.ThreadInfo{
		URI:       ids.NewThreadID(),
		Title:     title,
		CreatedAt: s.now().UTC(),
	}
	if err := kv.SetTyped(ctx, s.kv, kv.ThreadInfoKey(info.URI), info, kv.TTLThread); err != nil {
		return nil, fmt.Errorf("thread: create %s: %w", info.URI, err)
	}
	if _, err := s.kv.SAdd(ctx, kv.ThreadIndexKey(workspace), info.URI); err != nil {
		return nil, fmt.Errorf("thread: index %s: %w", info.URI, err)
	}
	if _, err := s.kv.Expire(ctx, kv.ThreadIndexKey(workspace), kv.TTLThread); err != nil {
		return nil, err
	}
	return info, nil
}

// Get fetches thread metadata.
func (s *Store) Get(ctx context.Context, uri string) (*models.ThreadInfo, bool, error) {
	info, ok, err := kv.GetTyped[models.ThreadInfo](ctx, s.kv, kv.ThreadInfoKey(uri))
	if err != nil || !ok {
		return nil, false, err
	}
	return &info, true, nil
}

// List returns the thread URIs registered in a workspace.
func (s *Store) List(ctx context.Context, workspace string) ([]string, error) {
	uris, err := s.kv.SMembers(ctx, kv.ThreadIndexKey(workspace))
	if err != nil {
		return nil, err
	}
	sort.Strings(uris)
	return uris, nil
}

// Append adds a message to the thread's log and refreshes its TTL. The
// message id is generated here so ids stay time-ordered per thread.
func (s *Store) Append(ctx context.Context, uri, authorID string, parts []models.BotMessagePart) (*models.Message, error) {
	msg := &models.Message{
		ID:        ids.NewMessageID(),
		AuthorID:  authorID,
		Timestamp: s.now().UTC(),
		Parts:     parts,
	}
	if err := kv.PushTyped(ctx, s.kv, kv.ThreadMessagesKey(uri), msg); err != nil {
		return nil, fmt.Errorf("thread: append to %s: %w", uri, err)
	}
	if _, err := s.kv.Expire(ctx, kv.ThreadMessagesKey(uri), kv.TTLThread); err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages returns every message of a thread in log order. Malformed
// entries are logged and skipped.
func (s *Store) Messages(ctx context.Context, uri string) ([]models.Message, error) {
	raws, err := s.kv.LRange(ctx, kv.ThreadMessagesKey(uri), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("thread: read %s: %w", uri, err)
	}
	out := make([]models.Message, 0, len(raws))
	for _, raw := range raws {
		msg, ok := kv.DecodeTyped[models.Message](raw, kv.ThreadMessagesKey(uri))
		if !ok {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// ThreadMessage is a message tagged with its source thread, as returned by
// ListMessages.
type ThreadMessage struct {
	ThreadURI string
	models.Message
}

// ListMessages returns, for each cursor, the messages after the cursor's
// last seen id, merged across sources into a stable (timestamp, messageId)
// order.
//
// Per source: if the last seen id is found in the log, everything strictly
// after its position is new. If it is not found (the log may have been
// truncated), the fallback keeps messages whose id compares strictly
// greater, which is correct because ids are time-ordered.
func (s *Store) ListMessages(ctx context.Context, cursors []models.Cursor) ([]ThreadMessage, error) {
	var merged []ThreadMessage
	for _, c := range cursors {
		msgs, err := s.Messages(ctx, c.ThreadURI)
		if err != nil {
			return nil, err
		}
		for _, m := range newSince(msgs, c.LastMessageID) {
			merged = append(merged, ThreadMessage{ThreadURI: c.ThreadURI, Message: m})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged, nil
}

func newSince(msgs []models.Message, lastID string) []models.Message {
	if lastID == "" {
		return msgs
	}
	for i, m := range msgs {
		if m.ID == lastID {
			return msgs[i+1:]
		}
	}
	// Last seen id is gone from the log; fall back to id ordering.
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.ID > lastID {
			out = append(out, m)
		}
	}
	return out
}
