package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/export"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const graphPrefix = "graphs"

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// ObjectAPI is the part of *s3.Client the graph sink uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// GraphSink uploads exported viewpoint graphs as JSON objects.
type GraphSink struct {
	client ObjectAPI
	bucket string

	// s3 is set when the sink owns a real client and can presign links.
	s3 *s3.Client
}

var _ export.Sink = (*GraphSink)(nil)

func NewGraphSink(client ObjectAPI, bucket string) *GraphSink {
	return &GraphSink{client: client, bucket: bucket}
}

// NewGraphSinkFromEnv returns nil when AWS_BUCKET is unset, which disables
// uploads.
func NewGraphSinkFromEnv(ctx context.Context) (*GraphSink, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	if bucket == "" {
		return nil, nil
	}
	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	sink := NewGraphSink(client, bucket)
	sink.s3 = client
	return sink, nil
}

// GraphKey is the object key of a viewpoint's graph.
func GraphKey(viewpointID string) string {
	return fmt.Sprintf("%s/%s.json", graphPrefix, viewpointID)
}

func (s *GraphSink) PutGraph(ctx context.Context, graph common.ViewpointGraph) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(GraphKey(graph.ViewpointID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload graph to S3: %w", err)
	}
	return nil
}

// DownloadLink presigns a short-lived GET for a viewpoint's graph.
// AWS_PUBLIC_ENDPOINT, when set, replaces the endpoint so the signature
// matches the host clients will use.
func (s *GraphSink) DownloadLink(ctx context.Context, viewpointID string) (string, error) {
	if s.s3 == nil {
		return "", errors.New("graph sink cannot presign links")
	}
	baseClient := s.s3
	bucket := s.bucket
	key := GraphKey(viewpointID)
	publicEndpoint := util.GetEnv("AWS_PUBLIC_ENDPOINT")
	if publicEndpoint == "" {
		out, err := s3.NewPresignClient(baseClient).PresignGetObject(
			ctx,
			&s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
			s3.WithPresignExpires(15*time.Minute),
		)
		if err != nil {
			return "", fmt.Errorf("failed to generate download link: %w", err)
		}
		return out.URL, nil
	}

	publicURL, err := url.Parse(publicEndpoint)
	if err != nil || publicURL.Scheme == "" || publicURL.Host == "" {
		return "", fmt.Errorf("invalid AWS_PUBLIC_ENDPOINT: %s", publicEndpoint)
	}
	prefix := strings.TrimSuffix(publicURL.Path, "/")
	publicBaseEndpoint := fmt.Sprintf("%s://%s", publicURL.Scheme, publicURL.Host)

	presignClientS3 := s3.NewFromConfig(
		aws.Config{
			Region:      baseClient.Options().Region,
			Credentials: baseClient.Options().Credentials,
			HTTPClient:  baseClient.Options().HTTPClient,
		},
		func(o *s3.Options) {
			o.BaseEndpoint = aws.String(publicBaseEndpoint)
			o.UsePathStyle = true
		},
	)

	out, err := s3.NewPresignClient(presignClientS3).PresignGetObject(
		ctx,
		&s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		s3.WithPresignExpires(15*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}

	if prefix != "" {
		signedURL, parseErr := url.Parse(out.URL)
		if parseErr != nil {
			return "", fmt.Errorf("failed to parse presigned url: %w", parseErr)
		}
		signedURL.Path = prefix + signedURL.Path
		return signedURL.String(), nil
	}

	return out.URL, nil
}

// Bucket exposes the configured bucket name.
func (s *GraphSink) Bucket() string {
	return s.bucket
}
