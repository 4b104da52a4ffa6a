package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// S3API is the part of *s3.Client used by S3.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config selects a bucket. Endpoint targets S3-compatible services and
// switches to path-style addressing. Without static keys the default AWS
// credential chain is used.
type S3Config struct {
	Bucket          string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Region          string `json:"region" yaml:"region" mapstructure:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Prefix          string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"-" yaml:"-" mapstructure:"secret_access_key"`
}

// S3 stores files as objects of one bucket and returns s3://bucket/key URIs.
type S3 struct {
	client S3API
	bucket string
	prefix string
	log    *logrus.Entry
}

// NewS3 builds a client from cfg.
func NewS3(ctx context.Context, cfg S3Config, log *logrus.Entry) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	loaders := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loaders = append(loaders, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix, log), nil
}

// NewS3WithClient wraps an existing client. Keys are prefixed with prefix.
func NewS3WithClient(client S3API, bucket, prefix string, log *logrus.Entry) *S3 {
	if log == nil {
		log = discardLogger()
	}
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log.WithFields(logrus.Fields{"storage": "s3", "bucket": bucket}),
	}
}

// Save uploads r. The SDK needs a seekable body to sign the payload; an
// *os.File qualifies.
func (s *S3) Save(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	key, err := s.key(name)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	uri := (&url.URL{Scheme: "s3", Host: s.bucket, Path: "/" + key}).String()
	s.log.WithField("key", key).Info("object uploaded")
	return uri, nil
}

// Delete removes the object behind an s3:// URI of this bucket.
func (s *S3) Delete(ctx context.Context, uri string) error {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" || u.Host != s.bucket {
		return fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return fmt.Errorf("%w: %q has no key", ErrInvalidURI, uri)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	s.log.WithField("key", key).Info("object deleted")
	return nil
}

func (s *S3) key(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if s.prefix == "" {
		return name, nil
	}
	return s.prefix + "/" + name, nil
}
