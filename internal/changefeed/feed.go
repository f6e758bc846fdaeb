package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Kind string

const (
	Added    Kind = "added"
	Modified Kind = "modified"
	Removed  Kind = "removed"
)

type Collection string

const (
	Canvases    Collection = "canvases"
	Folders     Collection = "folders"
	CanvasTypes Collection = "canvas_types"
	AIAgents    Collection = "ai_agents"
	Generation  Collection = "generation"
	Dives       Collection = "dives"
)

// Change is one delta on a per-user collection.
type Change struct {
	Collection Collection      `json:"collection"`
	Kind       Kind            `json:"kind"`
	UserID     uint64          `json:"user_id"`
	DocumentID string          `json:"document_id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewChange builds a Change, encoding data as its payload.
func NewChange(collection Collection, kind Kind, userID uint64, documentID string, data any) (Change, error) {
	change := Change{
		Collection: collection,
		Kind:       kind,
		UserID:     userID,
		DocumentID: documentID,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Change{}, fmt.Errorf("encode change payload: %w", err)
		}
		change.Data = raw
	}
	return change, nil
}

// Decode unmarshals the change payload into dest.
func (c Change) Decode(dest any) error {
	if len(c.Data) == 0 {
		return fmt.Errorf("change %s/%s has no payload", c.Collection, c.DocumentID)
	}
	return json.Unmarshal(c.Data, dest)
}

type Handler func(Change)

const channelPrefix = "changes:user:"

func Channel(userID uint64) string {
	return channelPrefix + strconv.FormatUint(userID, 10)
}

// Feed delivers changes to subscribers. With a Redis client every replica
// publishes to and receives from Redis, so subscribers on any replica see
// every write; without one, Publish dispatches in process.
type Feed struct {
	client *goredis.Client
	log    zerolog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

func New(client *goredis.Client, log zerolog.Logger) *Feed {
	return &Feed{
		client: client,
		log:    log,
		subs:   make(map[int]Handler),
	}
}

func (f *Feed) Distributed() bool {
	return f.client != nil
}

func (f *Feed) Publish(ctx context.Context, change Change) error {
	if f.client == nil {
		f.dispatch(change)
		return nil
	}

	raw, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(change.UserID), raw).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Emit builds and publishes a change, logging instead of returning errors.
// Writers use it after a successful store write, where a lost notification
// must not fail the write itself.
func (f *Feed) Emit(ctx context.Context, collection Collection, kind Kind, userID uint64, documentID string, data any) {
	change, err := NewChange(collection, kind, userID, documentID, data)
	if err == nil {
		err = f.Publish(ctx, change)
	}
	if err != nil {
		f.log.Warn().Err(err).
			Str("collection", string(collection)).
			Str("document_id", documentID).
			Msg("failed to publish change")
	}
}

// Subscribe registers fn for every change and returns a function that
// removes it.
func (f *Feed) Subscribe(fn Handler) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *Feed) dispatch(change Change) {
	f.mu.RLock()
	handlers := make([]Handler, 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
}

// Run relays changes from Redis to local subscribers until ctx is done. It
// returns immediately when the feed is process-local.
func (f *Feed) Run(ctx context.Context) error {
	if f.client == nil {
		return nil
	}

	pubsub := f.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	// wait for the subscription to be confirmed before reading messages
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(msg.Channel, channelPrefix) {
				continue
			}

			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				f.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed change")
				continue
			}
			f.dispatch(change)
		}
	}
}
