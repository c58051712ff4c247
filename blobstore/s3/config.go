package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewDefaultStore creates a Store using the default AWS credential chain
// (environment, shared config, instance role).
func NewDefaultStore(ctx context.Context, bucket, rootPrefix string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewStore(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

// NewDefaultDDBCommitStore creates a DDBCommitStore using the default AWS
// credential chain.
func NewDefaultDDBCommitStore(ctx context.Context, bucket, rootPrefix, tableName, baseURI string) (*DDBCommitStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	s3Store := NewStore(s3.NewFromConfig(cfg), bucket, rootPrefix)
	return NewDDBCommitStore(s3Store, dynamodb.NewFromConfig(cfg), tableName, baseURI), nil
}
