package notify

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// PromotionPublisher — транспорт для MQNotifier (реализуется mq.Publisher).
type PromotionPublisher interface {
	PublishPromotion(ctx context.Context, promo domain.Promotion) error
}

// MQNotifier публикует promotion в exchange conveyor.promotions.
// Routing key — имя окружения.
type MQNotifier struct {
	publisher PromotionPublisher
}

// NewMQNotifier создаёт MQNotifier.
func NewMQNotifier(publisher PromotionPublisher) *MQNotifier {
	return &MQNotifier{publisher: publisher}
}

// Notify реализует Notifier.
func (n *MQNotifier) Notify(ctx context.Context, promo domain.Promotion) error {
	if err := n.publisher.PublishPromotion(ctx, promo); err != nil {
		return fmt.Errorf("%w: %v", ErrNotify, err)
	}
	return nil
}
