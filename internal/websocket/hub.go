package websocket

import (
	"context"
	"encoding/json"

	"ai-booking-caller-be/internal/model"
	"ai-booking-caller-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "cluster_events"

type clusterMessage struct {
	Origin       string          `json:"origin"`
	TargetUserID string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

type delivery struct {
	userID uuid.UUID // uuid.Nil broadcasts
	data   []byte
}

// Hub fans notifications out to the notification sockets of a user, on this
// instance directly and on other instances through Redis.
type Hub struct {
	// Registered clients map: UserID -> List of Clients (multi-device)
	clients map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	done       chan struct{}

	// Redis connection for cross-instance communication
	rdb *redis.Client
	// Identifies this instance so it ignores its own Redis messages.
	instanceID string

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
		clients:    make(map[uuid.UUID][]*Client),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		logger:     log,
	}
}

// Run owns the client map; every mutation and delivery happens here.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.remove(client)

		case d := <-h.deliver:
			if d.userID == uuid.Nil {
				for _, clients := range h.clients {
					h.push(clients, d.data)
				}
				continue
			}
			h.push(h.clients[d.userID], d.data)
		}
	}
}

func (h *Hub) push(clients []*Client, data []byte) {
	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client Send buffer full, dropping client", map[string]interface{}{"user_id": client.UserID})
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.UserID]) == 0 {
		delete(h.clients, client.UserID)
		h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
	}
}

func encode(notification model.Notification) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "notification",
		"data": notification,
	})
	return data
}

// Send (NotificationDelivery interface implementation)
func (h *Hub) Send(userID uuid.UUID, notification model.Notification) {
	data := encode(notification)
	h.enqueue(delivery{userID: userID, data: data})
	h.publish(userID.String(), data)
}

// Broadcast sends a notification to ALL connected clients.
func (h *Hub) Broadcast(notification model.Notification) {
	data := encode(notification)
	h.enqueue(delivery{userID: uuid.Nil, data: data})
	h.publish("*", data)
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	}
}

func (h *Hub) publish(target string, data []byte) {
	if h.rdb == nil {
		return
	}
	payload, _ := json.Marshal(clusterMessage{Origin: h.instanceID, TargetUserID: target, Message: data})
	if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
		h.logger.Warn("Hub", "Redis publish failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	// Every instance subscribes to one channel and keeps only messages for
	// users connected locally.
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var payload clusterMessage
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{"error": err.Error()})
			continue
		}
		if payload.Origin == h.instanceID {
			continue
		}

		if payload.TargetUserID == "*" {
			h.enqueue(delivery{userID: uuid.Nil, data: payload.Message})
			continue
		}
		uid, err := uuid.Parse(payload.TargetUserID)
		if err != nil {
			continue
		}
		h.enqueue(delivery{userID: uid, data: payload.Message})
	}
}
