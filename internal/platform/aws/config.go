// Package aws wraps the AWS SDK pieces the service touches: SDK
// configuration loading and the SNS client used for receipt notifications.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Config holds AWS connection settings.
type Config struct {
	Region string
}

// LoadAWSConfig loads SDK configuration through the default credential
// chain (environment, shared credentials file, instance role).
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
}
