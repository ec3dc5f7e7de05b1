/*
Copyright 2025 Paintbox Authors.

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

	"github.com/paintbox-ai/paintbox"
	"github.com/paintbox-ai/paintbox/api/middleware"
	"github.com/paintbox-ai/paintbox/config"
)

type Api struct {
	paintbox *paintbox.Paintbox
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/generations", a.SubmitGeneration)
	router.GET("/balances/:account_id", a.GetBalance)

	router.POST("/purchases", a.StartPurchase)

	return a.router
}

func NewAPI(p *paintbox.Paintbox) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))

	a := &Api{paintbox: p, router: r}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	// The payment provider cannot send the auth header; routes registered
	// before the auth middleware stay open.
	r.POST("/webhooks/yookassa", a.YooKassaWebhook)

	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	return a
}
