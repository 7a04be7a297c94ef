package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/config"
	"github.com/snarg/transcript-sync/internal/segment"
)

const jsonContentType = "application/json"

// S3Store keeps transcript documents in an S3-compatible object store.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

func NewS3Store(cfg config.S3Config, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log.With().Str("component", "s3-store").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *S3Store) Load(ctx context.Context, recordingID string) (*segment.Document, error) {
	data, err := s.get(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	doc, err := segment.DecodeDocument(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("s3 %s: %w", s.objectKey(recordingID), err)
	}
	return doc, nil
}

// get returns the raw document bytes.
func (s *S3Store) get(ctx context.Context, recordingID string) ([]byte, error) {
	if err := checkID(recordingID); err != nil {
		return nil, err
	}
	key := s.objectKey(recordingID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, segment.ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Save(ctx context.Context, doc *segment.Document) error {
	if err := checkID(doc.RecordingID); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		return err
	}
	return s.put(ctx, doc.RecordingID, buf.Bytes())
}

func (s *S3Store) put(ctx context.Context, recordingID string, data []byte) error {
	key := s.objectKey(recordingID)
	ct := jsonContentType
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &ct,
	})
	return err
}

func (s *S3Store) Exists(ctx context.Context, recordingID string) bool {
	if !ValidID(recordingID) {
		return false
	}
	key := s.objectKey(recordingID)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	return err == nil
}

func (s *S3Store) Type() string { return "s3" }

func (s *S3Store) objectKey(recordingID string) string {
	return objectKey(s.prefix, recordingID)
}

func objectKey(prefix, recordingID string) string {
	if prefix != "" {
		return prefix + "/transcripts/" + recordingID + ".json"
	}
	return "transcripts/" + recordingID + ".json"
}
