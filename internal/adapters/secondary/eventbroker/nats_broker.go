package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

const SubjectPostsChanged = "feed.posts.changed"

// PostChangedEvent is the wire form of domain.PostChange.
type PostChangedEvent struct {
	PostID     string    `json:"post_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(nc *nats.Conn) *NatsBroker {
	return &NatsBroker{nc: nc}
}

func (b *NatsBroker) PublishPostChanged(ctx context.Context, change domain.PostChange) error {
	data, err := json.Marshal(PostChangedEvent{
		PostID:     change.PostID,
		Kind:       string(change.Kind),
		OccurredAt: change.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	msg := &nats.Msg{
		Subject: SubjectPostsChanged,
		Data:    data,
		Header:  nats.Header{},
	}
	// Carry the caller's trace to every subscriber.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	slog.Debug("publishing post change", "subject", msg.Subject, "post_id", change.PostID, "kind", change.Kind)
	return b.nc.PublishMsg(msg)
}

// SubscribePostChanges calls fn for every post change until the returned stop function
// is called.
func (b *NatsBroker) SubscribePostChanges(fn func(ctx context.Context, change domain.PostChange)) (stop func(), err error) {
	sub, err := b.nc.Subscribe(SubjectPostsChanged, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		ctx, span := otel.Tracer("feed-sync").Start(ctx, "process_post_changed", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		change, err := DecodePostChanged(msg.Data)
		if err != nil {
			span.RecordError(err)
			slog.Error("invalid post change event", "error", err)
			return
		}
		span.SetAttributes(attribute.String("post.id", change.PostID), attribute.String("change.kind", string(change.Kind)))
		fn(ctx, change)
	})
	if err != nil {
		return nil, err
	}
	// Make sure the server registered the interest before the caller reads its first snapshot.
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && b.nc.IsConnected() {
			slog.Warn("post change unsubscribe failed", "error", err)
		}
	}, nil
}

func DecodePostChanged(data []byte) (domain.PostChange, error) {
	var event PostChangedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.PostChange{}, err
	}
	if event.PostID == "" {
		return domain.PostChange{}, fmt.Errorf("post change without post_id")
	}
	return domain.PostChange{
		PostID:     event.PostID,
		Kind:       domain.ChangeKind(event.Kind),
		OccurredAt: event.OccurredAt,
	}, nil
}
