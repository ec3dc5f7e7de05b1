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
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/paintbox-ai/paintbox"
	"github.com/paintbox-ai/paintbox/config"
	redis_db "github.com/paintbox-ai/paintbox/internal/redis-db"
	"github.com/paintbox-ai/paintbox/model"
)

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			// Concurrency stays deliberately low; generation jobs are
			// paced to the remote backend's rate limit, not to local CPU.
			Concurrency: conf.Queue.WorkerConcurrency,
			Queues: map[string]int{
				conf.Queue.GenerationQueue: 1,
			},
		},
	), nil
}

func initializeTaskHandlers(b *paintboxInstance, mux *asynq.ServeMux) {
	kinds := []model.JobKind{model.JobGenerateImage, model.JobEditImage, model.JobGenerateText}
	for _, kind := range kinds {
		mux.HandleFunc(paintbox.TaskTypeForKind(kind), b.paintbox.ProcessGenerationTask)
	}
}

// workerCommands defines the "workers" command. Workers drain the
// generation queue; the stale-job sweeper runs alongside them.
func workerCommands(b *paintboxInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start paintbox workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			server, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			sweeper := paintbox.NewStaleJobSweeper(b.paintbox)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			if err := server.Run(mux); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
