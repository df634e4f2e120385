// Copyright 2026 cfbench Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/juju/errors"
)

// validateArtifactStore checks cross-section requirements that depend on the
// selected artifact store. The S3 and Azure sections may stay empty as long
// as the store does not point at them.
func validateArtifactStore(sl validator.StructLevel) {
	config := sl.Current().Interface().(Config)
	switch config.Artifact.Store {
	case "s3":
		if config.S3.Endpoint == "" {
			sl.ReportError(config.S3.Endpoint, "s3.endpoint", "Endpoint", "required", "")
		}
		if config.S3.Bucket == "" {
			sl.ReportError(config.S3.Bucket, "s3.bucket", "Bucket", "required", "")
		}
	case "azblob":
		if config.AzureBlob.ConnectionString == "" &&
			(config.AzureBlob.AccountName == "" || config.AzureBlob.AccountKey == "") {
			sl.ReportError(config.AzureBlob.ConnectionString, "azblob.connection_string", "ConnectionString", "required", "")
		}
		if config.AzureBlob.Container == "" {
			sl.ReportError(config.AzureBlob.Container, "azblob.container", "Container", "required", "")
		}
	}
}

// Validate checks the configuration and returns the first violation found.
func (config *Config) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(validateArtifactStore, Config{})
	// register translations
	english := en.New()
	uni := ut.New(english, english)
	translator, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		return errors.Trace(err)
	}
	if err := validate.Struct(config); err != nil {
		// translate errors
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, validationError := range validationErrors {
				return errors.New(validationError.Translate(translator))
			}
		}
		return errors.Trace(err)
	}
	return nil
}
