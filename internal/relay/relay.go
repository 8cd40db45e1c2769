// Package relay broadcasts persisted actions to every connected client of
// a project room, across processes, over a shared Redis pub/sub channel.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"termhub/api/internal/action"
)

// Channel is the single shared broadcast channel every persisted action
// is published on.
const Channel = "action"

// RoomForProject names the broadcast room of one project.
func RoomForProject(projectID string) string {
	return "project-" + projectID
}

// Publisher pushes a persisted action onto the broadcast channel.
// Delivery is at-most-once: failures are surfaced but never retried.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Ping probes the Redis backend, for readiness checks.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) Publish(ctx context.Context, env action.Envelope) error {
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	if err := p.client.Publish(ctx, Channel, encoded).Err(); err != nil {
		return fmt.Errorf("publish action: %w", err)
	}
	return nil
}

// RoomEmitter fans a payload into every socket joined to a room.
type RoomEmitter interface {
	EmitToRoom(room, event string, payload []byte)
}

// Subscriber is the per-process end of the broadcast channel: it receives
// every published action and re-emits it to the room of the action's
// project. The originating client is not excluded from the fan-out; it is
// expected to reconcile its own echo.
type Subscriber struct {
	client *redis.Client
	rooms  RoomEmitter
}

func NewSubscriber(client *redis.Client, rooms RoomEmitter) *Subscriber {
	return &Subscriber{client: client, rooms: rooms}
}

// Run consumes the broadcast channel until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(msg.Payload)
		}
	}
}

func (s *Subscriber) handle(payload string) {
	var env action.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Printf("relay: dropping malformed action: %v", err)
		return
	}
	if env.Meta.Project == nil {
		// Not project-scoped; nothing to fan out to.
		return
	}
	s.rooms.EmitToRoom(RoomForProject(*env.Meta.Project), Channel, []byte(payload))
}
