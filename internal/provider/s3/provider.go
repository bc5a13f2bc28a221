// Package s3 mirrors an S3 bucket prefix by listing it on every fetch.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dl-alexandre/cloudmirror/internal/api"
	"github.com/dl-alexandre/cloudmirror/internal/errors"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
)

// ID is the provider identifier used for cursor files
const ID = "s3"

// API is the subset of the S3 client the provider calls
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

// Options configures the S3 provider
type Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint points the client at an S3-compatible service.
	Endpoint     string
	UsePathStyle bool
	// AccessKeyID and SecretAccessKey replace the default credential chain when both are set.
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
	Timeout         time.Duration
	// Debug logs every HTTP round trip when set.
	Debug *logging.DebugTransport
}

// Provider lists a bucket prefix. Every batch it returns is a full rebuild.
type Provider struct {
	client API
	bucket string
	prefix string
	logger logging.Logger
}

// NewClient builds an S3 client from the default AWS configuration chain
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	// A buildable client lets the config loader apply AWS_CA_BUNDLE to its transport.
	httpClient := awshttp.NewBuildableClient()
	if opts.Timeout > 0 {
		httpClient = httpClient.WithTimeout(opts.Timeout)
	}
	loadOpts = append(loadOpts, awsconfig.WithHTTPClient(httpClient))

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeConfigInvalid,
			fmt.Sprintf("Failed to load AWS configuration: %s", err)).Build(), err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
		if opts.MaxRetries >= 0 {
			o.RetryMaxAttempts = opts.MaxRetries + 1
		}
		if opts.Debug != nil {
			o.HTTPClient = debugClient{opts.Debug.Wrap(clientTransport{o.HTTPClient})}
		}
	}), nil
}

// clientTransport and debugClient adapt between the SDK's Do-style client
// and http.RoundTripper so the debug transport sits on top of whatever
// client the config loader built.
type clientTransport struct {
	client s3.HTTPClient
}

func (t clientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

type debugClient struct {
	rt http.RoundTripper
}

func (c debugClient) Do(req *http.Request) (*http.Response, error) {
	return c.rt.RoundTrip(req)
}

// New creates an S3 provider over client
func New(client API, opts Options, logger logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	prefix := strings.TrimPrefix(opts.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Provider{client: client, bucket: opts.Bucket, prefix: prefix, logger: logger}
}

func (p *Provider) ID() string {
	return ID
}

// FetchChanges lists every object below the prefix. Directory entries for
// each non-empty prefix come first, parents before children.
func (p *Provider) FetchChanges(ctx context.Context, _ types.SyncCursor) (*types.ChangeBatch, error) {
	if p.bucket == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeConfigInvalid,
			"s3.bucket is not configured").Build())
	}
	reqCtx := api.NewRequestContext(ctx, ID, p.bucket, types.RequestTypeListOrSearch)
	logger := p.logger.WithContext(ctx)

	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.bucket)}
	if p.prefix != "" {
		input.Prefix = aws.String(p.prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(p.client, input)

	dirs := make(map[string]bool)
	var files []types.ChangeEntry
	pages := 0
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.ClassifyS3Error(err, reqCtx, p.logger)
		}
		pages++
		for _, obj := range out.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), p.prefix)
			if rel == "" {
				continue
			}
			if strings.HasSuffix(rel, "/") {
				// Folder placeholder objects only matter when something lives below them.
				continue
			}
			for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
				dirs[dir] = true
			}
			entry := types.ChangeEntry{
				Path:      rel,
				Kind:      types.KindFile,
				Operation: types.OpCreate,
				RemoteID:  aws.ToString(obj.Key),
				Size:      aws.ToInt64(obj.Size),
				Hash:      strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				entry.ModifiedTime = *obj.LastModified
			}
			files = append(files, entry)
		}
	}

	dirPaths := make([]string, 0, len(dirs))
	for d := range dirs {
		dirPaths = append(dirPaths, d)
	}
	sort.Strings(dirPaths)

	entries := make([]types.ChangeEntry, 0, len(dirPaths)+len(files))
	for _, d := range dirPaths {
		entries = append(entries, types.ChangeEntry{Path: d, Kind: types.KindDirectory, Operation: types.OpCreate})
	}
	entries = append(entries, files...)

	logger.Info("Listed S3 prefix",
		logging.F("bucket", p.bucket),
		logging.F("prefix", p.prefix),
		logging.F("pages", pages),
		logging.F("entries", len(entries)),
	)
	return &types.ChangeBatch{ResetRequested: true, Entries: entries}, nil
}

// Open streams an object's content
func (p *Provider) Open(ctx context.Context, entry types.ChangeEntry) (io.ReadCloser, error) {
	key := entry.RemoteID
	if key == "" {
		key = p.prefix + entry.Path
	}
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		reqCtx := api.NewRequestContext(ctx, ID, p.bucket, types.RequestTypeDownload)
		return nil, errors.ClassifyS3Error(err, reqCtx, p.logger)
	}
	return out.Body, nil
}
