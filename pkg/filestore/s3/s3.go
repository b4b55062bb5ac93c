package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// New returns a new S3 file store.
func New(key, secret, region, bucket string, debug bool) (*Store, error) {
	s := &Store{
		key:    key,
		secret: secret,
		region: region,
		bucket: bucket,
		debug:  debug,
	}
	if err := s.start(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

type Store struct {
	key    string
	secret string
	region string
	bucket string
	debug  bool
	client *s3.Client
}

func (s *Store) PublicURL(name string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, name)
}

func (s *Store) start(ctx context.Context) error {
	provider := credentials.NewStaticCredentialsProvider(s.key, s.secret, "")
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(provider),
		config.WithRegion(s.region))
	if err != nil {
		return fmt.Errorf("s3: couldn't load aws config: %w", err)
	}
	s.client = s3.NewFromConfig(cfg)

	// Check if bucket exists
	input := &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}
	if _, err := s.client.HeadBucket(ctx, input); err != nil {
		return fmt.Errorf("s3: couldn't head bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, path, name string) (string, error) {
	var contentType string
	ext := filepath.Ext(path)
	switch ext {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".webp":
		contentType = "image/webp"
	case ".mp3":
		contentType = "audio/mpeg"
	case ".mp4":
		contentType = "video/mp4"
	default:
		return "", fmt.Errorf("s3: unknown content type for extension %s", ext)
	}
	reader, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("s3: couldn't open file %s: %w", path, err)
	}
	defer reader.Close()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        reader,
		ContentType: aws.String(contentType),
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("s3: couldn't put object %s: %w", name, err)
	}
	if s.debug {
		js, _ := json.Marshal(out)
		log.Println("s3: put object", name, string(js))
	}
	return s.PublicURL(name), nil
}
