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
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/paintbox-ai/paintbox/model"
)

func (s *SubmitGeneration) ValidateSubmitGeneration() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Kind, validation.Required, validation.In(
			string(model.JobGenerateImage),
			string(model.JobEditImage),
			string(model.JobGenerateText),
		)),
		validation.Field(&s.AccountID, validation.Required),
		validation.Field(&s.Prompt, validation.Required, validation.Length(1, 4000)),
		validation.Field(&s.SourceFileID, validation.Required.When(s.Kind == string(model.JobEditImage))),
	)
}

func (p *StartPurchase) ValidateStartPurchase() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.AccountID, validation.Required),
		validation.Field(&p.ChatID, validation.Required),
		validation.Field(&p.PackageID, validation.Required),
	)
}

func (n *PaymentNotification) ValidatePaymentNotification() error {
	if err := validation.ValidateStruct(n,
		validation.Field(&n.Event, validation.Required),
		validation.Field(&n.Object, validation.Required),
	); err != nil {
		return err
	}
	return validation.ValidateStruct(n.Object,
		validation.Field(&n.Object.ID, validation.Required),
		validation.Field(&n.Object.Status, validation.Required),
	)
}
