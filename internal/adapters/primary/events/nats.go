package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

// SubjectRepair is the request/reply subject that triggers a counter repair run.
const SubjectRepair = "feed.maintenance.repair"

const repairTimeout = 5 * time.Minute

type RepairReply struct {
	Repaired int    `json:"repaired"`
	Error    string `json:"error,omitempty"`
}

type MaintenanceHandler struct {
	service ports.Maintenance
}

func NewMaintenanceHandler(service ports.Maintenance) *MaintenanceHandler {
	return &MaintenanceHandler{service: service}
}

// Subscribe binds the handler to SubjectRepair on a queue group, so that a request is
// served by a single replica.
func (h *MaintenanceHandler) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	return nc.QueueSubscribe(SubjectRepair, "feed-sync", h.HandleRepair)
}

func (h *MaintenanceHandler) HandleRepair(msg *nats.Msg) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
	ctx, span := otel.Tracer("feed-sync").Start(ctx, "handle_repair_request", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	reply := h.repair(ctx)
	span.SetAttributes(attribute.Int("posts.repaired", reply.Repaired))
	if reply.Error != "" {
		span.SetStatus(codes.Error, reply.Error)
	}

	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil && msg.Reply != "" {
		slog.Error("repair reply not sent", "error", err)
	}
}

func (h *MaintenanceHandler) repair(ctx context.Context) RepairReply {
	ctx, cancel := context.WithTimeout(ctx, repairTimeout)
	defer cancel()

	n, err := h.service.ScanAndRepair(ctx)
	if err != nil {
		slog.Error("counter repair failed", "repaired", n, "error", err)
		return RepairReply{Repaired: n, Error: err.Error()}
	}
	slog.Info("counter repair done", "repaired", n)
	return RepairReply{Repaired: n}
}
