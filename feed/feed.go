// Package feed is the append-only message log shared by both participants.
package feed

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/ssau-fiit/livetype-api/typing"
	"sort"
	"strings"
	"time"
)

var (
	ErrEmptyText = errors.New("feed: message text is empty")
	ErrNoUser    = errors.New("feed: message has no user id")
)

type Message struct {
	ID        string `json:"id" bson:"id"`
	UserID    string `json:"userId" bson:"user_id"`
	Text      string `json:"text" bson:"text"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"`
}

// Feed delivers the whole ordered log on every change.
type Feed interface {
	Append(ctx context.Context, m Message) (Message, error)
	List(ctx context.Context) ([]Message, error)
	Subscribe(onSnapshot func([]Message)) typing.Subscription
}

// prepare validates m and fills in the id and timestamp when missing.
func prepare(m Message, now time.Time) (Message, error) {
	if m.UserID == "" {
		return m, ErrNoUser
	}
	if strings.TrimSpace(m.Text) == "" {
		return m, ErrEmptyText
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = now.UnixMilli()
	}
	return m, nil
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Foreign joins, one per line, the text of every message not written by
// self.
func Foreign(msgs []Message, self string) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.UserID == self {
			continue
		}
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
