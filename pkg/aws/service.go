package aws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/blue-mimo/image-labelling/pkg/construct"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
	"github.com/redis/go-redis/v9"
)

// ErrNoSentryDSN means the SSM parameter named for the Sentry DSN was empty
var ErrNoSentryDSN = errors.New("no value for sentry DSN")

const (
	defaultLabelsTableName      = "image_labels"
	defaultLabelsIndexName      = "label_name-index"
	defaultLabelCountsTableName = "label_counts"
	defaultSuggestionsTableName = "prefix_suggestions"
)

func mustGetEnv(envVar string) string {
	value := os.Getenv(envVar)
	if len(value) == 0 {
		panic(fmt.Errorf("missing env var: %s", envVar))
	}
	return value
}

func getEnv(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}

func mustGetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(fmt.Errorf("parsing env var %s: %w", envVar, err))
	}
	return n
}

func mustGetEnvFloat(envVar string, defaultValue float64) float64 {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		panic(fmt.Errorf("parsing env var %s: %w", envVar, err))
	}
	return f
}

func mustGetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Errorf("parsing env var %s: %w", envVar, err))
	}
	return d
}

// Config describes all the values required to setup AWS from the environment
type Config struct {
	construct.ServiceConfig
	aws.Config
	ImagesBucket         string
	LabelsTableName      string
	LabelsIndexName      string
	LabelCountsTableName string
	SuggestionsTableName string
	// LabelsTopicArn is the SNS topic notified after ingestion. Empty disables
	// notifications.
	LabelsTopicArn string
	// IngestQueueURL is the SQS queue consumed by the queue ingestion lambda.
	IngestQueueURL string
	// SuggestionsRedis configures the suggestion lookup cache. Nil disables it.
	SuggestionsRedis *redis.Options
	HoneycombAPIKey  string
	Sentry           telemetry.SentryConfig
}

// FromEnv constructs the AWS Configuration from the environment
func FromEnv(ctx context.Context) Config {
	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Errorf("loading aws default config: %w", err))
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	if param := os.Getenv("SENTRY_DSN_PARAMETER"); param != "" {
		sentryDSN = mustGetParameter(ctx, awsConfig, param)
	}

	return Config{
		Config: awsConfig,
		ServiceConfig: construct.ServiceConfig{
			MaxLabels:           mustGetEnvInt("MAX_LABELS", construct.DefaultMaxLabels),
			MinConfidence:       mustGetEnvFloat("MIN_CONFIDENCE", construct.DefaultMinConfidence),
			MaxSuggestions:      mustGetEnvInt("MAX_SUGGESTIONS", construct.DefaultMaxSuggestions),
			MinPrefixLength:     mustGetEnvInt("MIN_PREFIX_LENGTH", construct.DefaultMinPrefixLength),
			MaxPrefixLength:     mustGetEnvInt("MAX_PREFIX_LENGTH", construct.DefaultMaxPrefixLength),
			MaxSuggestionLabels: mustGetEnvInt("MAX_SUGGESTION_LABELS", 0),
			SuggestionsCacheTTL: mustGetEnvDuration("SUGGESTIONS_CACHE_TTL", construct.DefaultSuggestionsCacheTTL),
			MaxUploadBytes:      int64(mustGetEnvInt("MAX_UPLOAD_BYTES", construct.DefaultMaxUploadBytes)),
		},
		ImagesBucket:         mustGetEnv("IMAGES_BUCKET_NAME"),
		LabelsTableName:      getEnv("LABELS_TABLE_NAME", defaultLabelsTableName),
		LabelsIndexName:      getEnv("LABELS_INDEX_NAME", defaultLabelsIndexName),
		LabelCountsTableName: getEnv("LABEL_COUNTS_TABLE_NAME", defaultLabelCountsTableName),
		SuggestionsTableName: getEnv("PREFIX_SUGGESTIONS_TABLE_NAME", defaultSuggestionsTableName),
		LabelsTopicArn:       os.Getenv("LABELS_TOPIC_ARN"),
		IngestQueueURL:       os.Getenv("INGEST_QUEUE_URL"),
		SuggestionsRedis:     suggestionsRedisFromEnv(awsConfig),
		HoneycombAPIKey:      os.Getenv("HONEYCOMB_API_KEY"),
		Sentry: telemetry.SentryConfig{
			DSN:         sentryDSN,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		},
	}
}

func mustGetParameter(ctx context.Context, cfg aws.Config, name string) string {
	ssmClient := ssm.NewFromConfig(cfg)
	response, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		panic(fmt.Errorf("retrieving parameter %s: %w", name, err))
	}
	if response.Parameter == nil || response.Parameter.Value == nil || *response.Parameter.Value == "" {
		panic(ErrNoSentryDSN)
	}
	return *response.Parameter.Value
}

// suggestionsRedisFromEnv returns redis options for the suggestion cache, or
// nil when no cache is configured. ElastiCache IAM auth is used when a user ID
// and cache name are given.
func suggestionsRedisFromEnv(cfg aws.Config) *redis.Options {
	addr := os.Getenv("SUGGESTIONS_REDIS_URL")
	if addr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     addr,
		Password: os.Getenv("SUGGESTIONS_REDIS_PASSWORD"),
	}
	userID := os.Getenv("SUGGESTIONS_REDIS_USER_ID")
	if userID != "" {
		opts.CredentialsProviderContext = redisCredentialVerifier(cfg, userID, mustGetEnv("SUGGESTIONS_REDIS_CACHE"))
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Construct constructs the services from AWS deps for Lambda functions
func Construct(cfg Config, opts ...construct.Option) (*construct.Service, error) {
	dynamo := NewDynamoClient(cfg.Config)
	options := []construct.Option{
		construct.WithImageStore(NewS3ImageStore(cfg.Config, cfg.ImagesBucket)),
		construct.WithLabelStore(NewDynamoLabelsTable(dynamo, cfg.LabelsTableName, cfg.LabelsIndexName)),
		construct.WithLabelCountStore(NewDynamoLabelCountsTable(dynamo, cfg.LabelCountsTableName)),
		construct.WithSuggestionStore(NewDynamoSuggestionsTable(dynamo, cfg.SuggestionsTableName)),
		construct.WithDetector(NewRekognitionDetector(cfg.Config, WithS3Source(cfg.ImagesBucket))),
	}
	if cfg.LabelsTopicArn != "" {
		options = append(options, construct.WithNotifier(NewSNSLabelNotifier(cfg.Config, cfg.LabelsTopicArn)))
	}
	if cfg.SuggestionsRedis != nil {
		options = append(options, construct.WithSuggestionsClient(telemetry.GetInstrumentedRedisClient(cfg.SuggestionsRedis)))
	}
	return construct.Construct(cfg.ServiceConfig, append(options, opts...)...)
}
