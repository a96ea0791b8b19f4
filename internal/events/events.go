// Package events carries progression events from the ledger, quiz manager
// and certificate issuer to whoever refreshes derived state.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-progress/internal/platform/database"
)

// Event types.
const (
	TypeProgressUpdated   = "progress.updated"
	TypeTechStackChosen   = "progress.tech_stack_chosen"
	TypeQuizStarted       = "quiz.started"
	TypeQuizSubmitted     = "quiz.submitted"
	TypeCertificateIssued = "certificate.issued"
)

// Event is a single progression event for one user.
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Subject   string         `json:"subject,omitempty"` // roadmap or master id
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

// MemoryPublisher keeps events in memory for tests and the memory driver.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		events: []Event{},
	}
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	if err := validate(&event); err != nil {
		return err
	}

	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()

	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

// OfType returns the recorded events of one type.
func (p *MemoryPublisher) OfType(eventType string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// PostgresPublisher appends events to the progression_events table.
type PostgresPublisher struct {
	pool *pgxpool.Pool
}

func NewPostgresPublisher(pool *pgxpool.Pool) *PostgresPublisher {
	return &PostgresPublisher{pool: pool}
}

func (p *PostgresPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("event publisher pool is nil")
	}
	if err := validate(&event); err != nil {
		return err
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	_, err = p.pool.Exec(ctx,
		`INSERT INTO progression_events (user_id, event_type, subject, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.UserID,
		event.Type,
		nullIfEmpty(event.Subject),
		string(data),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.Type,
		"user_id", event.UserID,
		"subject", event.Subject,
	)
	return nil
}

// Fanout publishes every event to all of its publishers.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes an event and logs instead of failing when delivery fails.
// Events describe writes that already committed, so callers never roll back.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := p.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish event",
			"type", event.Type,
			"user_id", event.UserID,
			"error", err,
		)
	}
}

func validate(event *Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.UserID == "" {
		return fmt.Errorf("event user id is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
