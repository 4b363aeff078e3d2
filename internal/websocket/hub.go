package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sessionscribe/api/internal/model"
	"github.com/sessionscribe/api/pkg/response"
)

// Subscriber is one websocket connection following a session job.
type Subscriber struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// JobLookup reads the stored state of a session job.
type JobLookup interface {
	GetJob(ctx context.Context, jobID string) (*model.SessionJob, error)
}

// Hub fans session job events out to the connections subscribed to that job.
type Hub struct {
	subscribers map[string]map[*Subscriber]bool
	jobs        JobLookup

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *jobEvent
	done       chan struct{}

	mu sync.RWMutex
}

type jobEvent struct {
	jobID   string
	payload []byte
	// target restricts delivery to one subscriber.
	target *Subscriber
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan *jobEvent, 256),
		done:        make(chan struct{}),
	}
}

// WithJobLookup makes the hub replay the outcome of an already finished job
// to late subscribers. Call it before Run.
func (h *Hub) WithJobLookup(jobs JobLookup) *Hub {
	h.jobs = jobs
	return h
}

// Run dispatches registrations and events until ctx is cancelled. Once it
// returns, registrations and broadcasts become no-ops.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case sub := <-h.register:
			h.mu.Lock()
			if h.subscribers[sub.JobID] == nil {
				h.subscribers[sub.JobID] = make(map[*Subscriber]bool)
			}
			h.subscribers[sub.JobID][sub] = true
			h.mu.Unlock()
			log.Printf("[Hub] subscriber registered for session job %s", sub.JobID)

		case sub := <-h.unregister:
			h.remove(sub)
			log.Printf("[Hub] subscriber left session job %s", sub.JobID)

		case ev := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers[ev.jobID] {
				if ev.target != nil && ev.target != sub {
					continue
				}
				select {
				case sub.Send <- ev.payload:
				default:
					// slow reader, drop it
					close(sub.Send)
					delete(h.subscribers[ev.jobID], sub)
				}
			}
			if len(h.subscribers[ev.jobID]) == 0 {
				delete(h.subscribers, ev.jobID)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[sub.JobID]
	if !ok || !subs[sub] {
		return
	}
	delete(subs, sub)
	close(sub.Send)
	if len(subs) == 0 {
		delete(h.subscribers, sub.JobID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, subs := range h.subscribers {
		for sub := range subs {
			close(sub.Send)
		}
		delete(h.subscribers, jobID)
	}
}

// Register adds a subscriber. If the job has already succeeded or failed,
// its outcome is sent to the new subscriber once. A job finishing during
// registration may therefore be reported twice.
func (h *Hub) Register(sub *Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.Send)
		return
	}
	h.replayOutcome(sub)
}

func (h *Hub) replayOutcome(sub *Subscriber) {
	if h.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := h.jobs.GetJob(ctx, sub.JobID)
	if err != nil {
		return
	}

	var msg interface{}
	switch job.Status {
	case model.JobStatusSucceeded:
		msg = completeMessage(job.ID, job.Result)
	case model.JobStatusFailed:
		jobErr := model.JobError{Code: response.CodeJobFailed, Message: "job failed"}
		if job.Error != nil {
			jobErr = *job.Error
		}
		msg = errorMessage(job.ID, jobErr)
	default:
		return
	}
	h.send(&jobEvent{jobID: sub.JobID, target: sub}, msg)
}

// Unregister removes a subscriber and closes its send channel.
func (h *Hub) Unregister(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// SubscriberCount returns the number of connections following jobID.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[jobID])
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string, pollAttempt int) {
	h.publish(jobID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
		PollAttempt: pollAttempt,
	})
}

// BroadcastComplete sends the finished transcript and note to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result *model.SessionResult) {
	h.publish(jobID, completeMessage(jobID, result))
}

// BroadcastError sends the normalized failure to all job subscribers
func (h *Hub) BroadcastError(jobID string, jobErr model.JobError) {
	h.publish(jobID, errorMessage(jobID, jobErr))
}

func completeMessage(jobID string, result *model.SessionResult) model.WSCompleteMessage {
	return model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	}
}

func errorMessage(jobID string, jobErr model.JobError) model.WSErrorMessage {
	return model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: jobErr,
	}
}

func (h *Hub) publish(jobID string, msg interface{}) {
	h.send(&jobEvent{jobID: jobID}, msg)
}

func (h *Hub) send(ev *jobEvent, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Hub] failed to marshal %T for job %s: %v", msg, ev.jobID, err)
		return
	}
	ev.payload = data
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// HandleConnection serves one websocket until the peer goes away.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	sub := &Subscriber{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(sub)
	defer h.Unregister(sub)

	// Send is owned by the hub, so pongs go through the writer separately.
	pongs := make(chan struct{}, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-sub.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-pongs:
				pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}

			case <-stop:
				return
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] websocket error on job %s: %v", jobID, err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}
