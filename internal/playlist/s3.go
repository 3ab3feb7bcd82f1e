/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config contains object storage settings.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store keeps documents as <prefix>/<channel>/<date>.json objects.
type S3Store struct {
	client ObjectAPI
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Client builds an S3 client from static or ambient credentials.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewS3Store creates an object storage backed store.
func NewS3Store(client ObjectAPI, bucket, prefix string, logger zerolog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With().Str("component", "playlist_store").Logger(),
	}
}

// Key returns the object key of a day.
func (s *S3Store) Key(channelID, date string) string {
	return path.Join(s.prefix, channelID, date+".json")
}

// Load fetches and decodes the document for a day.
func (s *S3Store) Load(ctx context.Context, channelID string, date time.Time) (models.PlaylistDay, error) {
	key := s.Key(channelID, date.Format(models.DateLayout))
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return models.PlaylistDay{}, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return models.PlaylistDay{}, fmt.Errorf("get playlist object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return models.PlaylistDay{}, fmt.Errorf("read playlist object: %w", err)
	}
	day, err := Decode(data)
	if err != nil {
		return models.PlaylistDay{}, err
	}
	if err := checkLoaded(day, channelID, date); err != nil {
		return models.PlaylistDay{}, err
	}
	return day, nil
}

// Save uploads the document for a day.
func (s *S3Store) Save(ctx context.Context, day models.PlaylistDay) error {
	if err := CheckDocument(day); err != nil {
		return err
	}
	data, err := Encode(day)
	if err != nil {
		return err
	}

	key := s.Key(day.Channel, day.Date)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put playlist object: %w", err)
	}

	s.logger.Info().Str("channel", day.Channel).Str("date", day.Date).Str("key", key).Msg("playlist uploaded")
	return nil
}
