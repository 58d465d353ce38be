package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"doccrawl/internal/crawl"
)

const (
	channelPrefix  = "doccrawl:crawl:"
	publishTimeout = 2 * time.Second
)

// Publisher is the subset of *redis.Client used for progress fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Channel is the pub/sub channel carrying progress for one session.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}

// Message is the JSON payload published for every crawl event. Page bodies
// are never included.
type Message struct {
	SessionID  string       `json:"sessionId"`
	State      crawl.State  `json:"state"`
	Action     string       `json:"action"`
	Stats      crawl.Stats  `json:"stats"`
	Page       *PageSummary `json:"page,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

type PageSummary struct {
	URL    string           `json:"url"`
	Title  string           `json:"title,omitempty"`
	Depth  int              `json:"depth"`
	Status crawl.PageStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// NewMessage builds the payload for ev.
func NewMessage(ev crawl.Event) Message {
	msg := Message{
		SessionID:  ev.SessionID,
		State:      ev.State,
		Action:     ev.Action,
		Stats:      ev.Stats,
		StartedAt:  ev.StartedAt,
		FinishedAt: ev.FinishedAt,
	}
	if ev.Page != nil {
		msg.Page = &PageSummary{
			URL:    ev.Page.URL,
			Title:  ev.Page.Title,
			Depth:  ev.Page.Depth,
			Status: ev.Page.Status,
			Error:  ev.Page.Error,
		}
	}
	return msg
}

// Notifier publishes crawl progress to Redis. It implements crawl.Observer.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

func New(pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{pub: pub, logger: logger}
}

// Connect parses a redis:// URL and returns the client.
func Connect(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (n *Notifier) Observe(ev crawl.Event) {
	payload, err := json.Marshal(NewMessage(ev))
	if err != nil {
		n.logger.Warn("encode crawl event failed", "session_id", ev.SessionID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.pub.Publish(ctx, Channel(ev.SessionID), payload).Err(); err != nil {
		n.logger.Warn("publish crawl event failed", "session_id", ev.SessionID, "error", err)
	}
}
