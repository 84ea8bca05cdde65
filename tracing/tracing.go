package tracing

import (
	"context"
	"encoding/json"

	opentracing "github.com/opentracing/opentracing-go"
	opentracing_ext "github.com/opentracing/opentracing-go/ext"
	opentracing_log "github.com/opentracing/opentracing-go/log"

	"github.com/RichardKnop/dispatcher/tasks"
)

// opentracing tags
var (
	DispatcherTag = opentracing.Tag{Key: string(opentracing_ext.Component), Value: "dispatcher"}
	BatchTag      = opentracing.Tag{Key: "dispatcher.workflow", Value: "batch"}
)

// StartSpanFromHeaders will extract a span from the signature headers
// and start a new span with the given operation name.
func StartSpanFromHeaders(headers tasks.Headers, operationName string) opentracing.Span {
	// Try to extract the span context from the carrier.
	spanContext, err := opentracing.GlobalTracer().Extract(opentracing.TextMap, headers)

	// Create a new span from the span context if found or start a new trace with the function name.
	// For clarity add the dispatcher component tag.
	span := opentracing.StartSpan(
		operationName,
		ConsumerOption(spanContext),
		DispatcherTag,
	)

	// Log any error but don't fail
	if err != nil {
		span.LogFields(opentracing_log.Error(err))
	}

	return span
}

// HeadersWithSpan will inject a span into the signature headers
func HeadersWithSpan(headers tasks.Headers, span opentracing.Span) tasks.Headers {
	// check if the headers aren't nil
	if headers == nil {
		headers = make(tasks.Headers)
	}

	if err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, headers); err != nil {
		span.LogFields(opentracing_log.Error(err))
	}

	return headers
}

// consumerOption ...
type consumerOption struct {
	producerContext opentracing.SpanContext
}

func (c consumerOption) Apply(o *opentracing.StartSpanOptions) {
	if c.producerContext != nil {
		opentracing.FollowsFrom(c.producerContext).Apply(o)
	}
	opentracing_ext.SpanKindConsumer.Apply(o)
}

// ConsumerOption ...
func ConsumerOption(producer opentracing.SpanContext) opentracing.StartSpanOption {
	return consumerOption{producer}
}

type producerOption struct{}

func (p producerOption) Apply(o *opentracing.StartSpanOptions) {
	opentracing_ext.SpanKindProducer.Apply(o)
}

// ProducerOption ...
func ProducerOption() opentracing.StartSpanOption {
	return producerOption{}
}

// StartLaunchSpan starts the span covering one launch and records it on the signature headers
func StartLaunchSpan(ctx context.Context, signature *tasks.Signature) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "LaunchTask", ProducerOption(), DispatcherTag)
	AnnotateSpanWithSignatureInfo(span, signature)
	signature.Headers = HeadersWithSpan(signature.Headers, span)
	return span, ctx
}

// AnnotateSpanWithSignatureInfo ...
func AnnotateSpanWithSignatureInfo(span opentracing.Span, signature *tasks.Signature) {
	// tag the span with some info about the signature
	span.SetTag("signature.name", signature.Name)
	span.SetTag("signature.uuid", signature.UUID)
	span.SetTag("signature.id", signature.ID)

	if signature.GroupUUID != "" {
		span.SetTag("signature.group.uuid", signature.GroupUUID)
	}
}

// AnnotateSpanWithBatchInfo ...
func AnnotateSpanWithBatchInfo(span opentracing.Span, groupUUID string, signatures []*tasks.Signature) {
	// tag the span with some info about the batch
	span.SetTag("batch.uuid", groupUUID)
	span.SetTag("batch.tasks.length", len(signatures))

	taskUUIDs := make([]string, len(signatures))
	for i, signature := range signatures {
		taskUUIDs[i] = signature.UUID
	}

	// encode the task uuids to json, if that fails just dump it in
	if encoded, err := json.Marshal(taskUUIDs); err == nil {
		span.SetTag("batch.tasks", string(encoded))
	} else {
		span.SetTag("batch.tasks", taskUUIDs)
	}

	// inject the tracing span into the tasks signature headers
	for _, signature := range signatures {
		signature.Headers = HeadersWithSpan(signature.Headers, span)
	}
}

// FinishWithError marks the span failed before finishing it
func FinishWithError(span opentracing.Span, err error) {
	if err != nil {
		opentracing_ext.Error.Set(span, true)
		span.LogFields(opentracing_log.Error(err))
	}
	span.Finish()
}
