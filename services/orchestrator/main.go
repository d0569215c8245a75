// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AthleteGov/services/llm"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/handlers"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/memory"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/observability"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/pipeline"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/routes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/stream"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "athletegov-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient parses WEAVIATE_SERVICE_URL and connects, ensuring
// the schema exists. A missing or invalid URL is fatal: unlike the chat
// paths, the retrieval pipeline cannot run without its index.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" {
		log.Fatal("WEAVIATE_SERVICE_URL is not set")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Fatalf("WEAVIATE_SERVICE_URL is invalid: %q", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

func main() {
	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12210"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	weaviateClient := newWeaviateClient()

	log.Println("Configuring the LLM Client")
	llmClient, err := llm.NewClientFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	embedder, ok := llmClient.(llm.Embedder)
	if !ok {
		// The Anthropic backend has no embedding API; embeddings always
		// come from OpenAI in that configuration.
		openaiClient, err := llm.NewOpenAIClient()
		if err != nil {
			log.Fatalf("No embedding backend available: %v", err)
		}
		embedder = openaiClient
	}

	breakers := resilience.NewRegistry()
	modelClient := clients.NewModelClient(llmClient, breakers.Get(resilience.BreakerModel))
	embeddingClient := clients.NewEmbeddingClient(embedder, breakers.Get(resilience.BreakerEmbedding))
	indexClient := clients.NewIndexClient(weaviateClient, embeddingClient,
		breakers.Get(resilience.BreakerIndexRead), breakers.Get(resilience.BreakerIndexWrite))
	webSearchClient := clients.NewWebSearchClient(breakers.Get(resilience.BreakerWebSearch))

	orchestrator := pipeline.New(modelClient, indexClient, webSearchClient, pipeline.DefaultConfig())
	adapter := stream.NewAdapter(stream.DefaultConfig())
	summaryCache := memory.NewSummaryCache(memory.DefaultCapacity, memory.DefaultTTL)
	summarizer := memory.NewSummarizer(modelClient)

	metrics := observability.NewStreamingMetrics(prometheus.DefaultRegisterer)
	prometheus.MustRegister(observability.NewBreakerCollector(breakers))

	router := gin.Default()
	router.Use(otelgin.Middleware("orchestrator-service"))

	routes.SetupRoutes(router, routes.Deps{
		Ask: handlers.AskDeps{
			Orchestrator: orchestrator,
			Adapter:      adapter,
			Memory:       summaryCache,
			Summarizer:   summarizer,
			Metrics:      metrics,
		},
		Index:    indexClient,
		Breakers: breakers,
	})

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
