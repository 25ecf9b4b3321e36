package deckstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/conorfennell/flashdeck/internal/domain"
)

// S3Config selects the bucket holding the decks. Endpoint may point at
// MinIO or any other S3-compatible service; leave it empty for AWS.
type S3Config struct {
	Endpoint     string
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	Prefix       string
	UsePathStyle bool
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client builds an S3 client from the configuration.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Store keeps decks as objects: <prefix><deck>/cards.json. A PutObject
// replaces the whole list at once, so readers never see partial writes.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store creates a store over an existing bucket.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(name, file string) string {
	return s.prefix + name + "/" + file
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// Ensure writes an empty card list unless the deck object exists.
func (s *S3Store) Ensure(ctx context.Context, name string) error {
	if err := domain.ValidateDeckName(name); err != nil {
		return err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name, CardsFile)),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check deck %s: %w", name, err)
	}
	return s.Save(ctx, name, nil)
}

// Load fetches and parses the card list of a deck.
func (s *S3Store) Load(ctx context.Context, name string) ([]domain.Card, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name, CardsFile)),
	})
	if err != nil {
		if isNotFound(err) {
			return []domain.Card{}, nil
		}
		return nil, fmt.Errorf("failed to load deck %s from S3: %w", name, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck %s: %w", name, err)
	}
	cards, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("deck %s: %w", name, err)
	}
	return cards, nil
}

// Save uploads the card list of a deck.
func (s *S3Store) Save(ctx context.Context, name string, cards []domain.Card) error {
	if err := domain.ValidateDeckName(name); err != nil {
		return err
	}
	data, err := Encode(cards)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name, CardsFile)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to save deck %s to S3: %w", name, err)
	}
	return nil
}

func (s *S3Store) keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	return keys, nil
}

// List returns the decks that have a card list object.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.keys(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}
	names := []string{}
	for _, k := range keys {
		name, file, ok := strings.Cut(k, "/")
		if !ok || file != CardsFile || domain.ValidateDeckName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Assets lists the images stored under a deck.
func (s *S3Store) Assets(ctx context.Context, name string) ([]string, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	keys, err := s.keys(ctx, s.key(name, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to list assets of deck %s: %w", name, err)
	}
	files := []string{}
	for _, k := range keys {
		if !strings.Contains(k, "/") && isAsset(k) {
			files = append(files, k)
		}
	}
	sort.Strings(files)
	return files, nil
}

// OpenAsset streams an image of a deck.
func (s *S3Store) OpenAsset(ctx context.Context, name, file string) (io.ReadCloser, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	if err := validateAsset(file); err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name, file)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, name, file)
		}
		return nil, fmt.Errorf("failed to open asset %s/%s: %w", name, file, err)
	}
	return resp.Body, nil
}
