package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config parameterizes the S3 driver. Endpoint and PathStyle support
// S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3 stores objects in an S3-compatible bucket. The create-only Put
// contract is emulated with a Head probe before each upload; S3 itself
// allows unconditional overwrites.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	nowFn   func() time.Time
}

// NewS3 builds a store from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob: s3 bucket must not be empty")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3WithClient(client, cfg.Bucket), nil
}

func newS3WithClient(client *s3.Client, bucket string) *S3 {
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		nowFn:   time.Now,
	}
}

func (s *S3) Put(ctx context.Context, key string, payload io.Reader, opts PutOptions) (Info, error) {
	if err := validateKey(key); err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return Info{}, fmt.Errorf("blob: read payload: %w", err)
	}
	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:])

	if existing, err := s.Head(ctx, key); err == nil {
		if existing.ETag != etag {
			return Info{}, fmt.Errorf("blob: key %q already exists with different content", key)
		}
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Info{}, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	meta := copyMetadata(opts.Metadata)
	meta = setChecksumMeta(meta, etag)
	input.Metadata = meta
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Info{}, fmt.Errorf("blob: put object: %w", err)
	}
	return Info{
		Key:         key,
		Size:        int64(len(data)),
		ETag:        etag,
		ContentType: opts.ContentType,
		Metadata:    copyMetadata(opts.Metadata),
		CreatedAt:   s.nowFn().UTC(),
	}, nil
}

const checksumMetaKey = "trialcore-sha256"

func setChecksumMeta(meta map[string]string, etag string) map[string]string {
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[checksumMetaKey] = etag
	return meta
}

func infoFromHead(key string, out *s3.HeadObjectOutput) Info {
	info := Info{Key: key, ETag: strings.Trim(aws.ToString(out.ETag), `"`)}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	info.ContentType = aws.ToString(out.ContentType)
	if out.LastModified != nil {
		info.CreatedAt = out.LastModified.UTC()
	}
	if len(out.Metadata) > 0 {
		meta := make(map[string]string, len(out.Metadata))
		for k, v := range out.Metadata {
			if k == checksumMetaKey {
				info.ETag = v
				continue
			}
			meta[k] = v
		}
		if len(meta) > 0 {
			info.Metadata = meta
		}
	}
	return info
}

func (s *S3) Head(ctx context.Context, key string) (Info, error) {
	if err := validateKey(key); err != nil {
		return Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("blob: head object: %w", err)
	}
	return infoFromHead(key, out), nil
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, Info, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return nil, Info{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("blob: get object: %w", err)
	}
	return out.Body, info, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := s.Head(ctx, key); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("blob: delete object: %w", err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Info, error) {
	var results []Info
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blob: list objects: %w", err)
		}
		for _, obj := range page.Contents {
			info := Info{
				Key:  aws.ToString(obj.Key),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.CreatedAt = obj.LastModified.UTC()
			}
			results = append(results, info)
		}
	}
	return results, nil
}

func (s *S3) PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if opts.Method != "" && opts.Method != "GET" {
		return "", fmt.Errorf("blob: presign method %q not supported", opts.Method)
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("blob: presign object: %w", err)
	}
	return req.URL, nil
}

func (s *S3) Driver() Driver { return DriverS3 }

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}
