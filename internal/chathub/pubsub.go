package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"productchat/backend/internal/models"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const relayChannelPrefix = "chat:"

// RedisRelay fans events out across server instances. Broadcast publishes to
// the chat's Redis channel; Run receives from every chat channel and hands the
// event to the local Registry, including on the publishing instance.
type RedisRelay struct {
	Redis    *redis.Client
	Registry *Registry
	Ctx      context.Context

	// listening is set while Run holds a confirmed subscription.
	listening atomic.Bool
}

// NewRedisRelay creates a relay over rdb delivering into registry.
func NewRedisRelay(rdb *redis.Client, registry *Registry) *RedisRelay {
	return &RedisRelay{Redis: rdb, Registry: registry, Ctx: context.Background()}
}

// RelayChannel returns the Redis channel name of a chat.
func RelayChannel(chatID uint) string {
	return relayChannelPrefix + strconv.FormatUint(uint64(chatID), 10)
}

// Broadcast публікує подію в Redis Pub/Sub. If Redis is unreachable the event
// is delivered locally so subscribers on this instance still get it.
func (r *RedisRelay) Broadcast(chatID uint, ev models.ChatEvent) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ERROR: Failed to encode event for chat %d: %v", chatID, err)
		return 0
	}

	receivers, err := r.Redis.Publish(r.Ctx, RelayChannel(chatID), payload).Result()
	if err != nil {
		log.Printf("WARNING: Redis publish for chat %d failed, delivering locally: %v", chatID, err)
		return r.Registry.Broadcast(chatID, ev)
	}

	// Без власної підписки (або коли її ніхто не отримав) ми не побачимо цю подію з Redis.
	if !r.listening.Load() || receivers == 0 {
		log.Printf("WARNING: Redis relay not subscribed, delivering chat %d locally", chatID)
		return r.Registry.Broadcast(chatID, ev)
	}
	return int(receivers)
}

// Listening reports whether Run currently holds a confirmed subscription.
func (r *RedisRelay) Listening() bool {
	return r.listening.Load()
}

// Run слухає Redis Pub/Sub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.Redis.PSubscribe(ctx, relayChannelPrefix+"*")
	defer pubsub.Close()

	// Чекаємо підтвердження підписки, щоб не втратити перші повідомлення.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to chat channels: %w", err)
	}
	log.Println("INFO: Redis relay subscribed to chat channels.")
	r.listening.Store(true)
	defer r.listening.Store(false)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Dispatch(msg.Channel, msg.Payload); err != nil {
				log.Printf("Error relaying Redis message on %s: %v", msg.Channel, err)
			}
		}
	}
}

// Dispatch decodes one relayed event and delivers it to local subscribers.
func (r *RedisRelay) Dispatch(channel, payload string) error {
	chatID, err := parseRelayChannel(channel)
	if err != nil {
		return err
	}

	var ev models.ChatEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	r.Registry.Broadcast(chatID, ev)
	return nil
}

func parseRelayChannel(channel string) (uint, error) {
	raw, ok := strings.CutPrefix(channel, relayChannelPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected channel %q", channel)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected channel %q: %w", channel, err)
	}
	return uint(id), nil
}
