/*
Copyright 2025 NBA Stats Scraper Authors.

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

package api

import (
	"github.com/gin-gonic/gin"

	orchestrator "github.com/najicham/nba-stats-scraper-sub004"
	"github.com/najicham/nba-stats-scraper-sub004/api/middleware"
	"github.com/najicham/nba-stats-scraper-sub004/config"
)

// Api is the admin surface of the orchestrator: status reads, manual
// overrides and reconciliation on demand.
type Api struct {
	orchestrator *orchestrator.Orchestrator
	reconciler   *orchestrator.Reconciler
	router       *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/status/:phase/:run_date", a.GetPhaseStatus)

	router.POST("/completions", a.IngestCompletion)
	router.POST("/force-trigger", a.ForceTrigger)
	router.POST("/override-triggered", a.OverrideTriggered)
	router.POST("/locks/release", a.ReleaseLock)
	router.POST("/reconcile", a.Reconcile)

	return a.router
}

func NewAPI(o *orchestrator.Orchestrator, r *orchestrator.Reconciler) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.Default()
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{orchestrator: o, reconciler: r, router: router}
}
