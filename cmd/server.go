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

package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paintbox-ai/paintbox"
	"github.com/paintbox-ai/paintbox/api"
	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/telegram"
)

func initializeRouter(b *paintboxInstance) *gin.Engine {
	return api.NewAPI(b.paintbox).Router()
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// runIngest holds the inbound-subscription leadership for as long as this
// process lives. On losing leadership it stops consuming and tries to
// re-acquire; the lock guarantees at most one consumer at a time.
func runIngest(ctx context.Context, b *paintboxInstance) {
	if b.cnf.Telegram.Token == "" {
		log.Println("No bot token configured, inbound chat consumer disabled")
		return
	}
	bot := telegram.NewClient(&b.cnf.Telegram)
	ingest := paintbox.NewIngest(b.paintbox, bot)

	for ctx.Err() == nil {
		locker, err := b.paintbox.AcquireIngestLeadership(ctx, time.Minute)
		if err != nil {
			logrus.Warnf("ingest leadership not acquired: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		log.Println("Ingest leadership acquired, consuming updates")

		runCtx, cancel := context.WithCancel(ctx)
		lost := b.paintbox.KeepIngestLeadership(runCtx, locker)
		go func() {
			<-lost
			cancel()
		}()

		if err := ingest.Run(runCtx); err != nil && ctx.Err() == nil {
			logrus.Warnf("ingest stopped: %v", err)
		}
		cancel()
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("ingest leadership release failed: %v", err)
		}
	}
}

// serverCommands returns the command that starts the HTTP API and the
// inbound chat consumer.
func serverCommands(b *paintboxInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start paintbox server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			router := initializeRouter(b)

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			go runIngest(ctx, b)

			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
