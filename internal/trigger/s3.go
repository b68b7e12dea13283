package trigger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/parallel"
)

// ObjectAPI is the part of *s3.Client the importer needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client uses the default AWS credential chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// S3Importer turns organization list objects into supervisor jobs. A batch of
// objects becomes a single job, so the batch never competes with itself for
// supervisor admission.
type S3Importer struct {
	api     ObjectAPI
	bucket  string
	enqueue Enqueue
}

func NewS3Importer(api ObjectAPI, bucket string, enqueue Enqueue) *S3Importer {
	return &S3Importer{api: api, bucket: bucket, enqueue: enqueue}
}

// fetchLimit bounds concurrent object reads of ImportPrefix.
const fetchLimit = 4

// ImportObject enqueues the organizations of one object. An object without
// organizations enqueues nothing and returns an empty id.
func (i *S3Importer) ImportObject(ctx context.Context, key string) (string, error) {
	orgs, err := i.read(ctx, key)
	if err != nil {
		return "", err
	}
	return i.submit(ctx, key, orgs)
}

// ImportPrefix merges the organizations of every object under prefix, in key
// order, into one supervisor job and returns its id. Objects are read
// concurrently, nothing is enqueued unless every object could be read.
func (i *S3Importer) ImportPrefix(ctx context.Context, prefix string) (string, error) {
	p := s3.NewListObjectsV2Paginator(i.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(i.bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("listing s3://%s/%s: %w", i.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); !strings.HasSuffix(key, "/") {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)

	lists, err := parallel.Map(ctx, fetchLimit, keys, i.read)
	if err != nil {
		return "", err
	}
	var orgs []string
	for n, list := range lists {
		if len(list) == 0 {
			slog.WarnContext(ctx, "s3 object lists no organization", "bucket", i.bucket, "key", keys[n])
		}
		orgs = append(orgs, list...)
	}
	return i.submit(ctx, prefix, orgs)
}

func (i *S3Importer) read(ctx context.Context, key string) ([]string, error) {
	out, err := i.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(i.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", i.bucket, key, err)
	}
	defer func() {
		_ = out.Body.Close()
	}()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", i.bucket, key, err)
	}
	orgs, err := ParseOrgList(data)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", i.bucket, key, err)
	}
	return orgs, nil
}

func (i *S3Importer) submit(ctx context.Context, key string, orgs []string) (string, error) {
	if len(orgs) == 0 {
		slog.WarnContext(ctx, "no organization to import", "bucket", i.bucket, "key", key)
		return "", nil
	}
	id, err := i.enqueue(ctx, model.SupervisorJobRequest{OrgInfoList: orgs})
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "supervisor job enqueued from s3", "key", key, "job_id", id, "orgs", len(orgs))
	return id, nil
}
