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
	"testing"

	"github.com/gorse-io/cfbench/config"
	"github.com/stretchr/testify/assert"
)

// The well-known Azurite development connection string. Client construction
// parses it without dialing the emulator.
const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestNewStore(t *testing.T) {
	// file store
	cfg := config.GetDefaultConfig()
	cfg.Artifact.Path = t.TempDir()
	store, err := NewStore(cfg)
	assert.NoError(t, err)
	assert.IsType(t, &POSIX{}, store)

	// S3 store
	cfg = config.GetDefaultConfig()
	cfg.Artifact.Store = "s3"
	cfg.S3.Endpoint = "localhost:9000"
	cfg.S3.AccessKeyID = "minioadmin"
	cfg.S3.SecretAccessKey = "minioadmin"
	cfg.S3.Bucket = "cfbench-test"
	store, err = NewStore(cfg)
	assert.NoError(t, err)
	assert.IsType(t, &S3{}, store)

	// Azure Blob store
	cfg = config.GetDefaultConfig()
	cfg.Artifact.Store = "azblob"
	cfg.AzureBlob.ConnectionString = azuriteConnectionString
	cfg.AzureBlob.Container = "cfbench-test"
	store, err = NewStore(cfg)
	assert.NoError(t, err)
	assert.IsType(t, &AzureBlob{}, store)

	// unknown store
	cfg = config.GetDefaultConfig()
	cfg.Artifact.Store = "ftp"
	_, err = NewStore(cfg)
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Artifact.Path = t.TempDir()
	store, err := NewStore(cfg)
	assert.NoError(t, err)

	w, done, err := store.Create("model/v1")
	assert.NoError(t, err)
	_, err = w.Write([]byte("artifact"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	<-done

	r, err := store.Open("model/v1")
	assert.NoError(t, err)
	content := make([]byte, 8)
	_, err = r.Read(content)
	assert.NoError(t, err)
	assert.Equal(t, "artifact", string(content))
	assert.NoError(t, r.Close())
}
