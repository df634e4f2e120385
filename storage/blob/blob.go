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

package blob

import (
	"io"

	"github.com/gorse-io/cfbench/config"
	"github.com/juju/errors"
)

// Store persists model artifacts as opaque blobs.
type Store interface {
	// Open a blob for reading.
	Open(name string) (io.ReadCloser, error)
	// Create a blob for writing. The done channel is closed when the write
	// is fully committed.
	Create(name string) (io.WriteCloser, chan struct{}, error)
}

// NewStore creates the artifact store selected by the configuration.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.Artifact.Store {
	case "file":
		return NewPOSIX(cfg.Artifact.Path), nil
	case "s3":
		return NewS3(cfg.S3)
	case "azblob":
		return NewAzureBlob(cfg.AzureBlob, cfg.AzureBlob.Container, cfg.AzureBlob.Prefix)
	default:
		return nil, errors.NotSupportedf("artifact store %v", cfg.Artifact.Store)
	}
}
