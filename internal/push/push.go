// Package push delivers notifications to chat participants who have no live
// connection. Delivery is best-effort: failures are reported on a channel for
// logging and never reach the message send that triggered them.
package push

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/chatterly-relay/internal/store"
)

const (
	// MaxChunkSize is the largest batch the Expo push service accepts.
	MaxChunkSize = 100

	photoBody = "📷 Sent a photo"
)

// Message is one Expo push message.
type Message struct {
	To    string            `json:"to"`
	Sound string            `json:"sound,omitempty"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notification describes a sent chat message that may need pushing.
type Notification struct {
	ChatID       string
	SenderID     string
	SenderName   string
	Type         store.MessageType
	Content      string
	Participants []string
}

// Gateway submits a chunk of push messages to the provider.
type Gateway interface {
	Send(ctx context.Context, messages []Message) error
}

// UserLookup resolves a participant's stored push token.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// PresenceChecker reports whether a user currently holds a live connection.
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// Dispatcher turns notifications into chunked gateway submissions.
type Dispatcher struct {
	users       UserLookup
	presence    PresenceChecker
	gateway     Gateway
	chunkSize   int
	concurrency int
	log         *zerolog.Logger
}

// NewDispatcher creates a dispatcher. chunkSize is clamped to 1..MaxChunkSize.
func NewDispatcher(users UserLookup, presence PresenceChecker, gateway Gateway, chunkSize, concurrency int, logger *zerolog.Logger) *Dispatcher {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		chunkSize = MaxChunkSize
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		users:       users,
		presence:    presence,
		gateway:     gateway,
		chunkSize:   chunkSize,
		concurrency: concurrency,
		log:         logger,
	}
}

// Dispatch pushes n to every offline participant other than the sender.
// It returns immediately; failures arrive on the returned channel, which is
// closed once every chunk has been attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) <-chan error {
	// Each participant can fail at most once during lookup and once as part of a chunk.
	errs := make(chan error, 2*len(n.Participants)+1)

	go func() {
		defer close(errs)

		messages := d.collect(ctx, n, errs)
		if len(messages) == 0 {
			return
		}

		chunks := Chunk(messages, d.chunkSize)
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for i, chunk := range chunks {
			g.Go(func() error {
				if err := d.gateway.Send(ctx, chunk); err != nil {
					errs <- fmt.Errorf("push chunk %d/%d (%d messages): %w", i+1, len(chunks), len(chunk), err)
				}
				return nil
			})
		}
		_ = g.Wait()

		d.log.Debug().
			Str("chat_id", n.ChatID).
			Int("messages", len(messages)).
			Int("chunks", len(chunks)).
			Msg("push dispatched")
	}()

	return errs
}

// Recipients returns the participants a notification is eligible for:
// everyone except the sender and anyone currently online.
func (d *Dispatcher) Recipients(n Notification) []string {
	out := make([]string, 0, len(n.Participants))
	for _, id := range n.Participants {
		if id == n.SenderID || d.presence.IsOnline(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) collect(ctx context.Context, n Notification, errs chan<- error) []Message {
	body := n.Content
	if n.Type == store.MessageTypeImage {
		body = photoBody
	}

	var messages []Message
	for _, id := range d.Recipients(n) {
		user, err := d.users.GetUser(ctx, id)
		if err != nil {
			errs <- fmt.Errorf("lookup push token for %s: %w", id, err)
			continue
		}
		if !IsExpoPushToken(user.PushToken) {
			continue
		}
		messages = append(messages, Message{
			To:    user.PushToken,
			Sound: "default",
			Title: n.SenderName,
			Body:  body,
			Data:  map[string]string{"chatId": n.ChatID},
		})
	}
	return messages
}

// Chunk splits messages into batches of at most size.
func Chunk(messages []Message, size int) [][]Message {
	if size <= 0 {
		size = MaxChunkSize
	}
	var chunks [][]Message
	for start := 0; start < len(messages); start += size {
		end := min(start+size, len(messages))
		chunks = append(chunks, messages[start:end])
	}
	return chunks
}

// IsExpoPushToken reports whether token has a shape the Expo service accepts.
func IsExpoPushToken(token string) bool {
	if (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]") {
		return true
	}
	// Bare device ids are accepted in canonical UUID form.
	if len(token) == 36 {
		_, err := uuid.Parse(token)
		return err == nil
	}
	return false
}
