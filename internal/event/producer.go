package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	pkgkafka "github.com/zaidandhul/bismarshop-promo-engine/pkg/kafka"
)

// Kafka topic constants for promotion domain events.
const (
	TopicPromotionCreated     = "bismarshop.promotion.created"
	TopicPromotionUpdated     = "bismarshop.promotion.updated"
	TopicPromotionArchived    = "bismarshop.promotion.archived"
	TopicReservationCreated   = "bismarshop.reservation.created"
	TopicReservationCommitted = "bismarshop.reservation.committed"
	TopicReservationReleased  = "bismarshop.reservation.released"
	TopicReservationExpired   = "bismarshop.reservation.expired"
)

// Aggregate type constants.
const (
	AggregateTypePromotion   = "promotion"
	AggregateTypeReservation = "reservation"
)

// Source identifier for events originating from the promotion engine.
const SourcePromoEngine = "promo-engine"

// PromotionData is the payload for promotion lifecycle events.
type PromotionData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	IsActive bool   `json:"is_active"`
	Code     string `json:"code,omitempty"`
}

// ReservationData is the payload for reservation lifecycle events.
type ReservationData struct {
	Token      string                   `json:"token"`
	CustomerID string                   `json:"customer_id"`
	OrderID    string                   `json:"order_id,omitempty"`
	Status     string                   `json:"status"`
	Lines      []domain.ReservationLine `json:"lines"`
}

// Producer publishes promotion and reservation domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the promotion engine.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishPromotionCreated publishes a promotion.created event.
func (p *Producer) PublishPromotionCreated(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionCreated, promo)
}

// PublishPromotionUpdated publishes a promotion.updated event.
func (p *Producer) PublishPromotionUpdated(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionUpdated, promo)
}

// PublishPromotionArchived publishes a promotion.archived event.
func (p *Producer) PublishPromotionArchived(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionArchived, promo)
}

func (p *Producer) publishPromotion(ctx context.Context, topic string, promo *domain.Promotion) error {
	data := PromotionData{
		ID:       promo.ID,
		Name:     promo.Name,
		Kind:     promo.Kind,
		IsActive: promo.IsActive,
		Code:     promo.Code,
	}

	event, err := pkgkafka.NewEvent(topic, promo.ID, AggregateTypePromotion, SourcePromoEngine, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published promotion event",
		slog.String("topic", topic),
		slog.String("promotion_id", promo.ID),
	)

	return nil
}

// PublishReservationCreated publishes a reservation.created event.
func (p *Producer) PublishReservationCreated(ctx context.Context, res *domain.Reservation) error {
	return p.publishReservation(ctx, TopicReservationCreated, res)
}

// PublishReservationCommitted publishes a reservation.committed event.
func (p *Producer) PublishReservationCommitted(ctx context.Context, res *domain.Reservation) error {
	return p.publishReservation(ctx, TopicReservationCommitted, res)
}

// PublishReservationReleased publishes a reservation.released event.
func (p *Producer) PublishReservationReleased(ctx context.Context, res *domain.Reservation) error {
	return p.publishReservation(ctx, TopicReservationReleased, res)
}

// PublishReservationExpired publishes a reservation.expired event.
func (p *Producer) PublishReservationExpired(ctx context.Context, res *domain.Reservation) error {
	return p.publishReservation(ctx, TopicReservationExpired, res)
}

func (p *Producer) publishReservation(ctx context.Context, topic string, res *domain.Reservation) error {
	data := ReservationData{
		Token:      res.Token,
		CustomerID: res.CustomerID,
		OrderID:    res.OrderID,
		Status:     res.Status,
		Lines:      res.Lines,
	}

	event, err := pkgkafka.NewEvent(topic, res.Token, AggregateTypeReservation, SourcePromoEngine, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published reservation event",
		slog.String("topic", topic),
		slog.String("token", res.Token),
		slog.String("status", res.Status),
	)

	return nil
}
