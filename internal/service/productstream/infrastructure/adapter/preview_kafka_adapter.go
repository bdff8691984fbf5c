package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"productstream/internal/pkg/mq"
	"productstream/internal/pkg/tracing"
	"productstream/internal/service/productstream/domain"
)

// PreviewTopic 是预览重算请求的默认主题
const PreviewTopic = "productstream.preview"

// KafkaPreviewAdapter 把预览请求发到 Kafka，由预览计算服务消费。
// 消息以会话 ID 作为 key，同一会话的请求落在同一分区并保持顺序。
type KafkaPreviewAdapter struct {
	writer mq.MessageWriter
	tracer trace.Tracer
}

func NewKafkaPreviewAdapter(writer mq.MessageWriter, tracer trace.Tracer) *KafkaPreviewAdapter {
	return &KafkaPreviewAdapter{writer: writer, tracer: tracer}
}

func (a *KafkaPreviewAdapter) LoadPreview(ctx context.Context, req domain.PreviewRequested) error {
	ctx, span := a.tracer.Start(ctx, "adapter.LoadPreview", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("preview.trigger", string(req.Trigger)),
		attribute.Int64("stream.id", req.StreamID),
	)

	if req.TraceID == "" {
		req.TraceID = tracing.GetTraceIDFromContext(ctx)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "encode preview request")
	}

	err = mq.ProduceMessage(ctx, a.writer, []byte(req.SessionID), payload,
		kafka.Header{Key: "trigger", Value: []byte(req.Trigger)},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish preview request")
		return err
	}
	return nil
}
