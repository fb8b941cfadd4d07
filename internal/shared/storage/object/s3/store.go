package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"document-backend/internal/shared/storage/object"
)

const presignTTL = 15 * time.Minute

type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures an S3 store.
type Options struct {
	Region   string
	Bucket   string
	Prefix   string
	KMSKeyID string
	// PublicURL, when set, is used verbatim as the URL prefix for objects
	// (a CDN or public bucket). Otherwise URLs are presigned.
	PublicURL string
}

// Store implements object.Store on Amazon S3.
type Store struct {
	client    api
	presign   func(ctx context.Context, bucket, key string) (string, error)
	bucket    string
	prefix    string
	kmsKeyID  string
	publicURL string
}

// New loads the default AWS configuration and builds an S3 store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	presignClient := s3.NewPresignClient(client, s3.WithPresignExpires(presignTTL))
	store := newStore(client, opts)
	store.presign = func(ctx context.Context, bucket, key string) (string, error) {
		req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}
	return store, nil
}

func newStore(client api, opts Options) *Store {
	return &Store{
		client:    client,
		bucket:    strings.TrimSpace(opts.Bucket),
		prefix:    normalizePrefix(opts.Prefix),
		kmsKeyID:  strings.TrimSpace(opts.KMSKeyID),
		publicURL: strings.TrimRight(strings.TrimSpace(opts.PublicURL), "/"),
	}
}

// Put uploads r under key with server-side encryption.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (object.Object, error) {
	clean, err := object.CleanKey(key)
	if err != nil {
		return object.Object{}, err
	}
	mimeType, body, err := object.Sniff(r)
	if err != nil {
		return object.Object{}, fmt.Errorf("read sniff: %w", err)
	}
	counter := &object.CountingReader{R: body}
	objectKey := applyPrefix(s.prefix, clean)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        counter,
		ContentType: aws.String(mimeType),
	}
	if s.kmsKeyID != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
	} else {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return object.Object{}, fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return object.Object{Key: clean, Size: counter.N, MimeType: mimeType}, nil
}

// Open streams an object.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	clean, err := object.CleanKey(key)
	if err != nil {
		return nil, err
	}
	objectKey := applyPrefix(s.prefix, clean)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return out.Body, nil
}

// Delete removes an object. S3 treats missing keys as success.
func (s *Store) Delete(ctx context.Context, key string) error {
	clean, err := object.CleanKey(key)
	if err != nil {
		return err
	}
	objectKey := applyPrefix(s.prefix, clean)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return fmt.Errorf("s3 delete object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return nil
}

// URL returns the public URL when configured, otherwise a presigned GET.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	clean, err := object.CleanKey(key)
	if err != nil {
		return "", err
	}
	objectKey := applyPrefix(s.prefix, clean)
	if s.publicURL != "" {
		return s.publicURL + "/" + objectKey, nil
	}
	if s.presign == nil {
		return "", fmt.Errorf("s3 presign not configured")
	}
	return s.presign(ctx, s.bucket, objectKey)
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

var _ object.Store = (*Store)(nil)
