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
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestUnmarshal(t *testing.T) {
	data, err := os.ReadFile("config.toml.template")
	assert.NoError(t, err)
	text := string(data)
	text = strings.Replace(text, "api_key = \"\"", "api_key = \"19260817\"", -1)
	text = strings.Replace(text, "access_key_id = \"\"", "access_key_id = \"minioadmin\"", -1)
	text = strings.Replace(text, "secret_access_key = \"\"", "secret_access_key = \"miniosecret\"", -1)
	text = strings.Replace(text, "connection_string = \"\"", "connection_string = \"UseDevelopmentStorage=true\"", -1)
	viper.SetConfigType("toml")
	err = viper.ReadConfig(strings.NewReader(text))
	assert.NoError(t, err)
	var config Config
	err = viper.Unmarshal(&config)
	assert.NoError(t, err)

	// [server]
	assert.Equal(t, "0.0.0.0", config.Server.HttpHost)
	assert.Equal(t, 8087, config.Server.HttpPort)
	assert.Equal(t, "19260817", config.Server.APIKey)
	assert.Equal(t, 10*time.Second, config.Server.CacheExpire)
	assert.Equal(t, 10000, config.Server.CacheSize)
	assert.True(t, config.Server.EnableMetrics)
	// [artifact]
	assert.Equal(t, "file", config.Artifact.Store)
	assert.Equal(t, "cfbench_cache", config.Artifact.Path)
	// [s3]
	assert.Equal(t, "", config.S3.Endpoint)
	assert.Equal(t, "minioadmin", config.S3.AccessKeyID)
	assert.Equal(t, "miniosecret", config.S3.SecretAccessKey)
	assert.Equal(t, "", config.S3.Bucket)
	assert.Equal(t, "", config.S3.Prefix)
	assert.False(t, config.S3.Secure)
	// [azblob]
	assert.Equal(t, "UseDevelopmentStorage=true", config.AzureBlob.ConnectionString)
	assert.Equal(t, "", config.AzureBlob.AccountName)
	assert.Equal(t, "", config.AzureBlob.AccountKey)
	assert.Equal(t, "", config.AzureBlob.Endpoint)
	assert.Equal(t, "", config.AzureBlob.Container)
	assert.Equal(t, "", config.AzureBlob.Prefix)
	// [tracing]
	assert.False(t, config.Tracing.EnableTracing)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, "localhost:4317", config.Tracing.CollectorEndpoint)
	assert.Equal(t, "always", config.Tracing.Sampler)
	assert.Equal(t, 1.0, config.Tracing.Ratio)
}

func TestSetDefault(t *testing.T) {
	setDefault()
	viper.SetConfigType("toml")
	err := viper.ReadConfig(strings.NewReader(""))
	assert.NoError(t, err)
	var config Config
	err = viper.Unmarshal(&config)
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), &config)
}

type environmentVariable struct {
	key   string
	value string
}

func TestBindEnv(t *testing.T) {
	variables := []environmentVariable{
		{"CFBENCH_SERVER_HTTP_HOST", "<server_http_host>"},
		{"CFBENCH_SERVER_HTTP_PORT", "123"},
		{"CFBENCH_SERVER_API_KEY", "<server_api_key>"},
		{"CFBENCH_ARTIFACT_PATH", "<artifact_path>"},
		{"CFBENCH_S3_ENDPOINT", "minio:9000"},
		{"CFBENCH_S3_ACCESS_KEY_ID", "<access_key_id>"},
		{"CFBENCH_S3_SECRET_ACCESS_KEY", "<secret_access_key>"},
		{"CFBENCH_S3_BUCKET", "<bucket>"},
		{"CFBENCH_AZBLOB_CONNECTION_STRING", "<connection_string>"},
		{"CFBENCH_TRACING_COLLECTOR_ENDPOINT", "<collector_endpoint>"},
	}
	for _, variable := range variables {
		err := os.Setenv(variable.key, variable.value)
		assert.NoError(t, err)
	}

	config, err := LoadConfig("config.toml.template")
	assert.NoError(t, err)
	assert.Equal(t, "<server_http_host>", config.Server.HttpHost)
	assert.Equal(t, 123, config.Server.HttpPort)
	assert.Equal(t, "<server_api_key>", config.Server.APIKey)
	assert.Equal(t, "<artifact_path>", config.Artifact.Path)
	assert.Equal(t, "minio:9000", config.S3.Endpoint)
	assert.Equal(t, "<access_key_id>", config.S3.AccessKeyID)
	assert.Equal(t, "<secret_access_key>", config.S3.SecretAccessKey)
	assert.Equal(t, "<bucket>", config.S3.Bucket)
	assert.Equal(t, "<connection_string>", config.AzureBlob.ConnectionString)
	assert.Equal(t, "<collector_endpoint>", config.Tracing.CollectorEndpoint)

	// check default values
	assert.Equal(t, 10*time.Second, config.Server.CacheExpire)
	assert.Equal(t, "file", config.Artifact.Store)
}
