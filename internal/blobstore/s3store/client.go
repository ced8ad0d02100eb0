package s3store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/blobstore"
)

// ClientConfig holds the configuration for creating S3 clients.
type ClientConfig struct {
	Config *blobstore.Config
	Logger logx.Logger
}

// ClientManager manages S3 client instances and configurations.
type ClientManager struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	config        *blobstore.Config
	logger        logx.Logger
}

// NewClientManager creates a new S3 client manager.
func NewClientManager(ctx context.Context, clientConfig ClientConfig) (*ClientManager, error) {
	if clientConfig.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if clientConfig.Logger == nil {
		clientConfig.Logger = logx.NewNoopLogger()
	}

	cfg := clientConfig.Config
	logger := clientConfig.Logger

	logger.Debug("creating S3 client manager", blobstore.ArgsToFields(
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"use_path_style", cfg.UsePathStyle,
	)...)

	awsConfig, credSource, err := buildAWSConfigWithLoader(ctx, cfg, logger, func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx, opts...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	logger.Info("credential source selected", blobstore.ArgsToFields("cred_source", credSource)...)

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}

		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.GetEndpointURL())
		}

		o.RetryMaxAttempts = cfg.MaxRetries
		o.RetryMode = aws.RetryModeAdaptive

		o.HTTPClient = &http.Client{
			Timeout: cfg.RequestTimeout,
		}
	})

	presignClient := s3.NewPresignClient(s3Client)

	manager := &ClientManager{
		s3Client:      s3Client,
		presignClient: presignClient,
		config:        cfg,
		logger:        logger,
	}

	if err := manager.validateConnection(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate S3 connection: %w", err)
	}

	logger.Info("S3 client manager created successfully", blobstore.ArgsToFields(
		"bucket", cfg.Bucket,
		"region", cfg.Region,
	)...)

	return manager, nil
}

// awsConfigLoader is a function that loads an aws.Config given LoadOptions.
type awsConfigLoader func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error)

// buildAWSConfigWithLoader builds an AWS config using the supplied loader (testable).
// It returns the loaded aws.Config and the detected credential source (one of:
// "static", "profile", "sdk-default", "assumed-role").
func buildAWSConfigWithLoader(ctx context.Context, cfg *blobstore.Config, logger logx.Logger, loader awsConfigLoader) (aws.Config, string, error) {
	var options []func(*config.LoadOptions) error
	credSource := "unknown"

	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}

	logger.Debug("storage config values", blobstore.ArgsToFields(
		"access_key_set", cfg.AccessKey != "",
		"secret_key_set", cfg.SecretKey != "",
		"use_sdk_defaults", cfg.UseSDKDefaults,
		"endpoint", cfg.Endpoint,
		"bucket", cfg.Bucket,
	)...)

	if !cfg.UseSDKDefaults {
		if cfg.AccessKey != "" && cfg.SecretKey != "" {
			credProvider := credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				cfg.SessionToken,
			)
			options = append(options, config.WithCredentialsProvider(credProvider))
			credSource = "static"
		} else if cfg.Profile != "" {
			options = append(options, config.WithSharedConfigProfile(cfg.Profile))
			credSource = "profile"
		} else {
			return aws.Config{}, credSource, fmt.Errorf("UseSDKDefaults is false but no explicit credentials provided (access_key/secret_key or profile)")
		}
	} else {
		if cfg.AccessKey != "" && cfg.SecretKey != "" {
			credProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
			options = append(options, config.WithCredentialsProvider(credProvider))
			credSource = "static"
		} else if cfg.Profile != "" {
			options = append(options, config.WithSharedConfigProfile(cfg.Profile))
			credSource = "profile"
		}
		// otherwise the loader falls through to the SDK default chain
	}

	options = append(options, config.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = cfg.MaxRetries
			o.MaxBackoff = cfg.BackoffMax
			o.Backoff = createBackoffStrategy(cfg)
		})
	}))

	awsConfig, err := loader(ctx, options...)
	if err != nil {
		return aws.Config{}, credSource, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	if credSource == "unknown" {
		credSource = "sdk-default"
	}

	logger.Debug("AWS config loaded", blobstore.ArgsToFields(
		"region", awsConfig.Region,
		"max_retries", cfg.MaxRetries,
		"cred_source", credSource,
	)...)

	if cfg.RoleARN != "" {
		// RoleARN is not a credential by itself: it instructs the SDK to call
		// STS:AssumeRole using whatever credentials were already loaded above.
		logger.Info("config requests STS AssumeRole", blobstore.ArgsToFields("role_arn", cfg.RoleARN)...)

		if awsConfig.Credentials != nil {
			if cfg.AssumeRoleValidateCredentials {
				ctxTimeout, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				if _, derr := awsConfig.Credentials.Retrieve(ctxTimeout); derr != nil {
					return aws.Config{}, credSource, fmt.Errorf("unable to resolve underlying credentials for assume-role: %w", derr)
				}
			} else {
				logger.Warn("assume-role credential validation is disabled; assume-role may fail at runtime if underlying credentials are missing", blobstore.ArgsToFields("role_arn", cfg.RoleARN)...)
			}
		}

		stsClient := sts.NewFromConfig(awsConfig)
		assumeProv := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = &cfg.ExternalID
			}
			o.RoleSessionName = "ingestgw-assume-role"
		})

		awsConfig.Credentials = aws.NewCredentialsCache(assumeProv)
		credSource = "assumed-role"
	}

	return awsConfig, credSource, nil
}

// createBackoffStrategy creates a custom backoff strategy.
func createBackoffStrategy(cfg *blobstore.Config) retry.BackoffDelayerFunc {
	return func(attempt int, err error) (time.Duration, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.BackoffInitial
		b.MaxInterval = cfg.BackoffMax
		b.MaxElapsedTime = 0
		b.Multiplier = 2.0
		b.RandomizationFactor = 0.1

		b.Reset()

		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = b.NextBackOff()
			if delay == backoff.Stop {
				break
			}
		}

		return delay, nil
	}
}

// validateConnection performs a basic connectivity check.
func (cm *ClientManager) validateConnection(ctx context.Context) error {
	_, err := cm.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cm.config.Bucket),
	})

	if err != nil {
		cm.logger.Warn("failed to validate bucket access", blobstore.ArgsToFields(
			"bucket", cm.config.Bucket,
			"error", err,
		)...)
		return fmt.Errorf("cannot access bucket %q: %w", cm.config.Bucket, err)
	}

	cm.logger.Debug("bucket access validated", blobstore.ArgsToFields("bucket", cm.config.Bucket)...)

	return nil
}

// GetS3Client returns the configured S3 client.
func (cm *ClientManager) GetS3Client() *s3.Client {
	return cm.s3Client
}

// GetPresignClient returns the configured presign client.
func (cm *ClientManager) GetPresignClient() *s3.PresignClient {
	return cm.presignClient
}

// GetConfig returns the storage configuration.
func (cm *ClientManager) GetConfig() *blobstore.Config {
	return cm.config
}

// GetLogger returns the logger instance.
func (cm *ClientManager) GetLogger() logx.Logger {
	return cm.logger
}

// Close performs cleanup operations.
func (cm *ClientManager) Close() error {
	cm.logger.Debug("closing S3 client manager")
	return nil
}

// BucketExists checks if the configured bucket exists and is accessible.
func (cm *ClientManager) BucketExists(ctx context.Context) (bool, error) {
	_, err := cm.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cm.config.Bucket),
	})

	if err != nil {
		var notFound *s3Types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("error checking bucket existence: %w", err)
	}

	return true, nil
}

// CreateBucketIfNotExists creates the bucket if it doesn't exist.
func (cm *ClientManager) CreateBucketIfNotExists(ctx context.Context) error {
	exists, err := cm.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if exists {
		cm.logger.Debug("bucket already exists", blobstore.ArgsToFields("bucket", cm.config.Bucket)...)
		return nil
	}

	cm.logger.Info("creating bucket", blobstore.ArgsToFields("bucket", cm.config.Bucket)...)

	input := &s3.CreateBucketInput{
		Bucket: aws.String(cm.config.Bucket),
	}

	if cm.config.Region != "" && cm.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3Types.CreateBucketConfiguration{
			LocationConstraint: s3Types.BucketLocationConstraint(cm.config.Region),
		}
	}

	_, err = cm.s3Client.CreateBucket(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", cm.config.Bucket, err)
	}

	cm.logger.Info("bucket created successfully", blobstore.ArgsToFields("bucket", cm.config.Bucket)...)
	return nil
}
