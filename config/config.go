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
	"context"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config is the configuration for the scoring server and artifact stores.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	S3        S3Config        `mapstructure:"s3"`
	AzureBlob AzureBlobConfig `mapstructure:"azblob"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig is the configuration for the scoring server.
type ServerConfig struct {
	HttpHost      string        `mapstructure:"http_host"`
	HttpPort      int           `mapstructure:"http_port" validate:"gte=0,lte=65535"`
	APIKey        string        `mapstructure:"api_key"`
	CacheExpire   time.Duration `mapstructure:"cache_expire" validate:"gt=0"`
	CacheSize     int           `mapstructure:"cache_size" validate:"gt=0"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// ArtifactConfig is the configuration for the model artifact store.
type ArtifactConfig struct {
	Store string `mapstructure:"store" validate:"oneof=file s3 azblob"`
	Path  string `mapstructure:"path" validate:"required"`
}

// S3Config is the configuration for the S3 artifact store.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,hostname_port"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Secure          bool   `mapstructure:"secure"`
}

// AzureBlobConfig is the configuration for the Azure Blob artifact store.
type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint" validate:"omitempty,url"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

// TracingConfig is the configuration for tracing.
type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=otlp otlphttp zipkin"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

// GetDefaultConfig returns a configuration with default values.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HttpHost:      "0.0.0.0",
			HttpPort:      8087,
			CacheExpire:   10 * time.Second,
			CacheSize:     10000,
			EnableMetrics: true,
		},
		Artifact: ArtifactConfig{
			Store: "file",
			Path:  "cfbench_cache",
		},
		Tracing: TracingConfig{
			Exporter:          "otlp",
			CollectorEndpoint: "localhost:4317",
			Sampler:           "always",
			Ratio:             1,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [server]
	viper.SetDefault("server.http_host", defaultConfig.Server.HttpHost)
	viper.SetDefault("server.http_port", defaultConfig.Server.HttpPort)
	viper.SetDefault("server.cache_expire", defaultConfig.Server.CacheExpire)
	viper.SetDefault("server.cache_size", defaultConfig.Server.CacheSize)
	viper.SetDefault("server.enable_metrics", defaultConfig.Server.EnableMetrics)
	// [artifact]
	viper.SetDefault("artifact.store", defaultConfig.Artifact.Store)
	viper.SetDefault("artifact.path", defaultConfig.Artifact.Path)
	// [tracing]
	viper.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	viper.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	viper.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	viper.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads and validates the configuration from a TOML file.
// Environment variables take precedence over values from the file.
func LoadConfig(path string) (*Config, error) {
	// set default config
	setDefault()

	// bind environment variables
	bindings := []configBinding{
		{"server.http_host", "CFBENCH_SERVER_HTTP_HOST"},
		{"server.http_port", "CFBENCH_SERVER_HTTP_PORT"},
		{"server.api_key", "CFBENCH_SERVER_API_KEY"},
		{"artifact.store", "CFBENCH_ARTIFACT_STORE"},
		{"artifact.path", "CFBENCH_ARTIFACT_PATH"},
		{"s3.endpoint", "CFBENCH_S3_ENDPOINT"},
		{"s3.access_key_id", "CFBENCH_S3_ACCESS_KEY_ID"},
		{"s3.secret_access_key", "CFBENCH_S3_SECRET_ACCESS_KEY"},
		{"s3.bucket", "CFBENCH_S3_BUCKET"},
		{"s3.prefix", "CFBENCH_S3_PREFIX"},
		{"azblob.connection_string", "CFBENCH_AZBLOB_CONNECTION_STRING"},
		{"azblob.account_name", "CFBENCH_AZBLOB_ACCOUNT_NAME"},
		{"azblob.account_key", "CFBENCH_AZBLOB_ACCOUNT_KEY"},
		{"tracing.collector_endpoint", "CFBENCH_TRACING_COLLECTOR_ENDPOINT"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// load config file
	viper.SetConfigType("toml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	var conf Config
	if err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(",")))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// NewTracerProvider creates a tracer provider from the tracing configuration.
// A no-op provider is returned when tracing is disabled.
func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	// create exporter
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch config.Exporter {
	case "otlp":
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
		if err != nil {
			return nil, errors.Trace(err)
		}
	case "otlphttp":
		exporter, err = otlptracehttp.New(context.Background(),
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithEndpoint(config.CollectorEndpoint))
		if err != nil {
			return nil, errors.Trace(err)
		}
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
		if err != nil {
			return nil, errors.Trace(err)
		}
	default:
		return nil, errors.NotSupportedf("exporter %v", config.Exporter)
	}

	// create sampler
	var sampler sdktrace.Sampler
	switch config.Sampler {
	case "always":
		sampler = sdktrace.AlwaysSample()
	case "never":
		sampler = sdktrace.NeverSample()
	case "ratio":
		sampler = sdktrace.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %v", config.Sampler)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("cfbench"),
		)),
		sdktrace.WithSampler(sampler),
	), nil
}
