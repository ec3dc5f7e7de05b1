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

package database

import (
	"context"
	"time"

	"github.com/paintbox-ai/paintbox/model"
)

// RecordGeneration persists one delivered artifact.
func (d *Datasource) RecordGeneration(ctx context.Context, gen *model.Generation) (*model.Generation, error) {
	if gen.GenerationID == "" {
		gen.GenerationID = model.GenerateUUIDWithSuffix("gen")
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO generations (generation_id, account_id, kind, prompt, model, cost, result_text, image_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, gen.GenerationID, gen.AccountID, gen.Kind, gen.Prompt, gen.Model, gen.Cost, gen.ResultText, gen.ImageData, gen.CreatedAt)
	if err != nil {
		return nil, err
	}
	return gen, nil
}
