// Package objectstore removes a job's files from S3-compatible object
// storage. Predictions write their outputs (structures, reports,
// intermediate payloads) under a per-job prefix; erasing the prefix
// erases the job.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/id"
)

// storeName identifies this backend in deletion records.
const storeName = "objectstore"

// deleteBatchSize is the S3 DeleteObjects limit per request.
const deleteBatchSize = 1000

// Client is the slice of the S3 API the store needs.
type Client interface {
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Compile-time interface check.
var _ deletion.ArtifactStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix sets the key prefix under which job artifacts live.
// Defaults to "jobs/".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store deletes job artifacts from an S3 bucket.
type Store struct {
	client Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New creates an object store over an existing S3 client. The caller
// owns the client lifecycle.
func New(client Client, bucket string, opts ...Option) *Store {
	s := &Store{
		client: client,
		bucket: bucket,
		prefix: "jobs/",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect builds an S3 client from static credentials and wraps it in a
// Store. For S3-compatible services, set endpoint; path-style addressing
// is used when an endpoint is given.
func Connect(ctx context.Context, accessKeyID, secretAccessKey, region, bucket, endpoint string, opts ...Option) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, bucket, opts...), nil
}

// Name identifies the backend in deletion records and logs.
func (s *Store) Name() string { return storeName }

// DeleteJobArtifacts removes every object under the job's prefix and
// returns one item per deleted object. An empty prefix is not an error;
// jobs without file outputs simply have nothing here.
func (s *Store) DeleteJobArtifacts(ctx context.Context, jobID id.JobID) ([]deletion.Item, error) {
	prefix := s.prefix + jobID.String() + "/"

	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("objectstore: list %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	items := make([]deletion.Item, 0, len(keys))
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		batch := keys[start:end]

		deleted, err := s.deleteBatch(ctx, batch)
		items = append(items, deleted...)
		if err != nil {
			return items, fmt.Errorf("objectstore: delete under %s: %w", prefix, err)
		}
	}

	s.logger.Debug("job artifacts removed from object storage",
		slog.String("job_id", jobID.String()),
		slog.String("prefix", prefix),
		slog.Int("objects", len(items)),
	)
	return items, nil
}

// listKeys collects all object keys under the prefix.
func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// deleteBatch issues one DeleteObjects call and reports which keys were
// actually removed. S3 can fail individual keys within a successful
// request, so per-key errors from the response body are surfaced too.
func (s *Store) deleteBatch(ctx context.Context, keys []string) ([]deletion.Item, error) {
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(false),
		},
	})
	if err != nil {
		return nil, err
	}

	items := make([]deletion.Item, 0, len(out.Deleted))
	for _, d := range out.Deleted {
		items = append(items, deletion.Item{
			Store:      storeName,
			Kind:       "object",
			Identifier: aws.ToString(d.Key),
		})
	}

	var errs []error
	for _, e := range out.Errors {
		errs = append(errs, fmt.Errorf("%s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
	}
	return items, errors.Join(errs...)
}
