package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/pkg/models"
)

// recvTimeoutSecs is the per-poll timeout of a channel receive.
const recvTimeoutSecs = 10

// responder is the server-side writer of one response channel. It
// guarantees the channel terminates with exactly one close or error
// sentinel no matter how the dispatch ends.
type responder struct {
	store     kv.Store
	workspace string
	channelID string
	log       *slog.Logger

	mu      sync.Mutex
	errored bool
	closed  bool
}

func newResponder(store kv.Store, workspace, channelID string) *responder {
	return &responder{
		store:     store,
		workspace: workspace,
		channelID: channelID,
		log:       slog.With("component", "workspace", "channel", channelID),
	}
}

func (r *responder) push(item models.WorkspaceStream) error {
	key := kv.ResponseQueueKey(r.workspace, r.channelID)
	if err := kv.PushTyped(context.Background(), r.store, key, item); err != nil {
		return err
	}
	_, err := r.store.Expire(context.Background(), key, kv.TTLChannel)
	return err
}

// Value pushes one wrapped payload. Values after a terminal sentinel are
// dropped.
func (r *responder) Value(payload any) {
	r.mu.Lock()
	done := r.closed || r.errored
	r.mu.Unlock()
	if done {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("response payload not encodable", "error", err)
		return
	}
	if err := r.push(models.NewStreamValue(raw)); err != nil {
		r.log.Error("response push failed", "error", err)
	}
}

// Error pushes an error envelope onto the channel. At most one error is
// emitted; the dispatcher still closes the channel afterwards.
func (r *responder) Error(err error) {
	r.mu.Lock()
	if r.errored || r.closed {
		r.mu.Unlock()
		return
	}
	r.errored = true
	r.mu.Unlock()

	env := ndperr.Encode(err, false)
	raw, mErr := json.Marshal(env)
	if mErr != nil {
		raw = []byte(`{"code":500,"message":"unencodable error"}`)
	}
	if pushErr := r.push(models.NewStreamError(raw)); pushErr != nil {
		r.log.Error("response error push failed", "error", pushErr)
	}
}

// Close pushes the close sentinel. Every dispatch ends with exactly one
// close, error or not.
func (r *responder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	if err := r.push(models.NewStreamClose()); err != nil {
		r.log.Error("response close push failed", "error", err)
	}
}

// Channel is the client side of one request's response stream.
type Channel struct {
	ID        string
	store     kv.Store
	workspace string
	done      bool
}

// Submit pushes a wrapped request onto the workspace's request queue and
// returns the channel its responses will arrive on.
func Submit(ctx context.Context, store kv.Store, workspace string, req models.WorkspaceRequest) (*Channel, error) {
	ch := &Channel{
		ID:        ids.NewChannelID(),
		store:     store,
		workspace: workspace,
	}
	key := kv.RequestQueueKey(workspace)
	if err := kv.PushTyped(ctx, store, key, models.WrappedRequest{ChannelID: ch.ID, Request: req}); err != nil {
		return nil, fmt.Errorf("workspace: submit to %s: %w", workspace, err)
	}
	if _, err := store.Expire(ctx, key, kv.TTLChannel); err != nil {
		return nil, err
	}
	return ch, nil
}

// Recv blocks for the next value on the channel. It returns (nil, nil) at
// end of stream, the decoded error envelope after an error sentinel, and a
// stop error when the stopping signal is set.
func (c *Channel) Recv(ctx context.Context, stop *signals.Stopping) (json.RawMessage, error) {
	if c.done {
		return nil, nil
	}
	key := kv.ResponseQueueKey(c.workspace, c.ID)
	for {
		if stop != nil && stop.IsSet() {
			return nil, ndperr.Stopped(ndperr.ReasonStopped)
		}
		raw, ok, err := c.store.BLPop(ctx, key, recvTimeoutSecs)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		item, ok := kv.DecodeTyped[models.WorkspaceStream](raw, key)
		if !ok {
			continue
		}
		switch item.Kind {
		case models.StreamValue:
			return item.Value, nil
		case models.StreamError:
			c.done = true
			e, err := ndperr.DecodeJSON(item.Error)
			if err != nil {
				return nil, ndperr.New(500, "WorkspaceError.bad_envelope", ndperr.KindRuntime,
					"undecodable error envelope").WithCause(err)
			}
			return nil, e
		case models.StreamClose:
			c.done = true
			return nil, nil
		default:
			continue
		}
	}
}

// Drain collects every remaining value until the stream terminates.
func (c *Channel) Drain(ctx context.Context, stop *signals.Stopping) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for {
		v, err := c.Recv(ctx, stop)
		if err != nil {
			return out, err
		}
		if v == nil {
			return out, nil
		}
		out = append(out, v)
	}
}
