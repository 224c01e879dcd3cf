// Package broadcast fans state and content changes out to real-time
// subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Event is one notification. Topic is tenant scoped, e.g. "tenant:4:ticket".
type Event struct {
	ID      string    `json:"id"`
	Topic   string    `json:"topic"`
	Action  string    `json:"action"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

// NewEvent stamps an id and time on a notification.
func NewEvent(topic, action string, payload any) Event {
	return Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		Action:  action,
		Payload: payload,
		Time:    time.Now().UTC(),
	}
}

type Gateway interface {
	Publish(ctx context.Context, ev Event) error
}

func SessionTopic(tenantID uint) string { return topic(tenantID, "session") }
func TicketTopic(tenantID uint) string { return topic(tenantID, "ticket") }
func MessageTopic(tenantID uint) string { return topic(tenantID, "message") }
func ContactTopic(tenantID uint) string { return topic(tenantID, "contact") }

// TenantPrefix is the common prefix of every topic of a tenant.
func TenantPrefix(tenantID uint) string {
	return fmt.Sprintf("tenant:%d:", tenantID)
}

func topic(tenantID uint, kind string) string {
	return TenantPrefix(tenantID) + kind
}

// Fanout publishes to every gateway and joins their errors.
type Fanout []Gateway

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, g := range f {
		if err := g.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
