package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans race stat updates out to websocket clients. When a redis client
// is provided, updates are also published so other tracker instances can
// relay them to their own clients.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	RaceName string
	Send     chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(raceName string) *Client {
	client := &Client{
		RaceName: raceName,
		Send:     make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[raceName] == nil {
		h.clients[raceName] = map[*Client]struct{}{}
	}
	h.clients[raceName][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if raceClients, ok := h.clients[client.RaceName]; ok {
		delete(raceClients, client)
		if len(raceClients) == 0 {
			delete(h.clients, client.RaceName)
		}
	}
	close(client.Send)
}

func (h *Hub) Broadcast(raceName string, payload []byte) {
	h.mu.RLock()
	clients := h.clients[raceName]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(raceName), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "race:*:updates")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		raceName := raceNameFromChannel(msg.Channel)
		h.mu.RLock()
		clients := h.clients[raceName]
		h.mu.RUnlock()
		for client := range clients {
			select {
			case client.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func redisChannel(raceName string) string {
	return "race:" + raceName + ":updates"
}

func raceNameFromChannel(ch string) string {
	// race:{name}:updates
	const prefix = "race:"
	const suffix = ":updates"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
