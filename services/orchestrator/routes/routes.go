// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AthleteGov/services/orchestrator/clients"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/handlers"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles everything route setup needs.
type Deps struct {
	Ask      handlers.AskDeps
	Index    *clients.IndexClient
	Breakers *resilience.Registry
}

// SetupRoutes wires the orchestrator's HTTP surface.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.Breakers))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/ask/stream", handlers.HandleAskStream(deps.Ask))
		v1.POST("/documents", handlers.CreateDocument(deps.Index))
	}
}
