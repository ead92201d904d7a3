package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/TP-Master1-GL/TERRABIA/pkg/kafka"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
)

// Kafka topic constants for session audit events.
const (
	TopicSessionStarted = "terrabia.session.started"
	TopicSessionEnded   = "terrabia.session.ended"
)

// Aggregate type constant.
const AggregateTypeSession = "session"

// Source identifier for events originating from the web client.
const SourceWebClient = "web-client"

// SessionStartedData is the payload for a session.started event.
type SessionStartedData struct {
	SessionID string `json:"session_id"`
	Method    string `json:"method"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// SessionEndedData is the payload for a session.ended event.
type SessionEndedData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Producer publishes session events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new session event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishSessionStarted publishes a session.started event after a login or
// registration.
func (p *Producer) PublishSessionStarted(ctx context.Context, sessionID, method string, u domain.User) error {
	data := SessionStartedData{
		SessionID: sessionID,
		Method:    method,
		UserID:    u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
	}
	return p.publish(ctx, TopicSessionStarted, sessionID, data)
}

// PublishSessionEnded publishes a session.ended event.
func (p *Producer) PublishSessionEnded(ctx context.Context, sessionID, userID string) error {
	data := SessionEndedData{
		SessionID: sessionID,
		UserID:    userID,
	}
	return p.publish(ctx, TopicSessionEnded, sessionID, data)
}

func (p *Producer) publish(ctx context.Context, topic, sessionID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, sessionID, AggregateTypeSession, SourceWebClient, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event = event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published session event",
		slog.String("topic", topic),
		slog.String("session_id", sessionID),
	)
	return nil
}
