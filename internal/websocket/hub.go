package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/pkg/logger"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
)

// Client is one subscriber to a job's progress stream
type Client struct {
	JobID string
	Send  chan []byte
}

// Hub fans job events out to the subscribers of each job.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	direct     chan *directMessage
	done       chan struct{}
	log        *zap.Logger

	mu sync.RWMutex
}

// BroadcastMessage is an encoded event addressed to one job
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

type directMessage struct {
	client *Client
	data   []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		direct:     make(chan *directMessage, 64),
		done:       make(chan struct{}),
		log:        logger.OrNop(log).Named("ws"),
	}
}

// Run serves the hub until ctx is canceled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for jobID, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, jobID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]struct{})
			}
			h.clients[client.JobID][client] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("client subscribed", zap.String("job_id", client.JobID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debug("client unsubscribed", zap.String("job_id", client.JobID))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer.
					h.remove(client)
				}
			}
			h.mu.Unlock()

		case msg := <-h.direct:
			h.mu.Lock()
			if _, ok := h.clients[msg.client.JobID][msg.client]; ok {
				select {
				case msg.client.Send <- msg.data:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Subscribe registers a client for jobID. The returned client's Send
// channel is closed when it is unsubscribed or the hub stops.
func (h *Hub) Subscribe(jobID string) *Client {
	client := &Client{JobID: jobID, Send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients listening to jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.send(jobID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

func (h *Hub) BroadcastComplete(jobID string, job *model.Job) {
	h.send(jobID, model.WSCompleteMessage{
		Type:  model.WSMessageTypeComplete,
		JobID: jobID,
		Job:   job,
	})
}

func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
}

// send never blocks the render path: events are dropped when the hub is
// backed up or stopped.
func (h *Hub) send(jobID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	case <-h.done:
	default:
		h.log.Warn("broadcast queue full, dropping event", zap.String("job_id", jobID))
	}
}

// SendSnapshot queues job's current state for client alone: a progress
// event while the job runs, otherwise its complete or error event.
func (h *Hub) SendSnapshot(client *Client, job *model.Job) {
	data, err := json.Marshal(snapshot(job))
	if err != nil {
		h.log.Error("failed to marshal snapshot", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	h.sendTo(client, data)
}

func snapshot(job *model.Job) any {
	switch job.Status {
	case model.JobStatusCompleted:
		return model.WSCompleteMessage{Type: model.WSMessageTypeComplete, JobID: job.ID, Job: job}
	case model.JobStatusError:
		return model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: job.ID,
			Error: model.WSError{Code: string(errorCode(job.ErrorKind)), Message: job.Error},
		}
	default:
		return model.WSProgressMessage{
			Type:        model.WSMessageTypeProgress,
			JobID:       job.ID,
			Progress:    job.Progress,
			Status:      job.Status,
			CurrentStep: job.CurrentStep,
		}
	}
}

func errorCode(kind model.ErrorKind) apperr.Code {
	switch kind {
	case model.ErrorKindSegmentRender:
		return apperr.CodeSegmentRender
	case model.ErrorKindConcatenation:
		return apperr.CodeConcatenation
	case model.ErrorKindStorage:
		return apperr.CodeStorage
	default:
		return apperr.CodeInternal
	}
}

// HandleConnection streams jobID's events to c until either side closes.
// Once subscribed, the client gets the state returned by current, so a
// client that connects after the last event still sees the outcome.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, current func() (*model.Job, error)) {
	client := h.Subscribe(jobID)
	defer h.Unsubscribe(client)

	if current != nil {
		job, err := current()
		switch {
		case err == nil:
			h.SendSnapshot(client, job)
		case apperr.CodeOf(err) == apperr.CodeNotFound:
			data, _ := json.Marshal(model.WSErrorMessage{
				Type:  model.WSMessageTypeError,
				JobID: jobID,
				Error: model.WSError{Code: string(apperr.CodeNotFound), Message: err.Error()},
			})
			h.sendTo(client, data)
		default:
			h.log.Warn("failed to load job snapshot", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", zap.String("job_id", jobID), zap.Error(err))
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.sendTo(client, pong)
		}
	}
}

// sendTo hands data to Run, which delivers it only while client is still
// subscribed. Subscribe returns after Run has taken the registration, so
// a message sent afterwards is never processed ahead of it.
func (h *Hub) sendTo(client *Client, data []byte) {
	select {
	case h.direct <- &directMessage{client: client, data: data}:
	case <-h.done:
	default:
		h.log.Warn("direct queue full, dropping message", zap.String("job_id", client.JobID))
	}
}
