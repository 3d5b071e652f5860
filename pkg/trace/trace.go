/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package trace wires the scheduling loop into OpenTelemetry: one
// span per nextJob tick, annotated with the chosen policy, job id and
// outcome. The placement and cluster searches inside a tick get no
// child spans of their own.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/thu-pacman/stride-scheduler/pkg/scheduler"

// NewProvider builds an in-process TracerProvider. No exporter is
// attached: spans are sampled and timed, but not shipped anywhere,
// matching the rest of the stack's choice to avoid bringing in an
// OTLP/gRPC exporter for a single-process scheduler (see DESIGN.md).
func NewProvider() *sdktrace.TracerProvider {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(provider)
	return provider
}

// Tracer returns the package-scoped tracer used by the scheduler.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartTick opens a span for one nextJob invocation.
func StartTick(ctx context.Context, policy string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "nextJob", trace.WithAttributes(
		attribute.String("policy", policy),
	))
}

// EndTick records the tick's outcome and closes the span. err, if
// non-nil, marks the span as errored.
func EndTick(span trace.Span, jobID uint64, outcome string, err error) {
	span.SetAttributes(
		attribute.Int64("jobid", int64(jobID)),
		attribute.String("outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
