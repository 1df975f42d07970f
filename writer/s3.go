package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// S3Backend shares one S3 client across all market buffers.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Log
}

// NewS3Backend initializes the S3 client with the configured credentials.
func NewS3Backend(ctx context.Context, cfg *appconfig.Config) (*S3Backend, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})
	return &S3Backend{
		client: client,
		bucket: cfg.Storage.S3.Bucket,
		prefix: cfg.Storage.S3.Prefix,
		log:    logger.GetLogger(),
	}, nil
}

// Constructor returns a buffer constructor backed by this client, suitable
// for registering under the "s3" backend name.
func (s *S3Backend) Constructor() Constructor {
	return func(params BufferParams) (MarketBuffer, error) {
		return &S3Buffer{
			packetBuffer: packetBuffer{
				marketID: params.MarketID,
				maxSize:  params.Config.Writer.Buffer.MaxSize,
			},
			backend: s,
			ctx:     params.Ctx,
		}, nil
	}
}

// S3Buffer uploads each flush as one line-delimited JSON object keyed by
// market and timestamp.
type S3Buffer struct {
	packetBuffer
	backend *S3Backend
	ctx     context.Context
}

func (b *S3Buffer) Push(pkt models.MarketPacket) error {
	b.add(pkt)
	if b.full() {
		return b.Flush()
	}
	return nil
}

func (b *S3Buffer) Flush() error {
	items := b.take()
	if len(items) == 0 {
		return nil
	}
	var body bytes.Buffer
	for _, pkt := range items {
		line, err := pkt.StoreLine()
		if err != nil {
			return fmt.Errorf("encode packet for %s: %w", b.marketID, err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}
	key := path.Join(b.backend.prefix, b.marketID,
		fmt.Sprintf("%d_%s.jsonl", time.Now().UnixMilli(), uuid.New().String()))
	ctx := context.WithoutCancel(b.ctx)
	_, err := b.backend.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.backend.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("upload to s3 for %s: %w", b.marketID, err)
	}
	b.backend.log.WithComponent("s3_buffer").WithFields(logger.Fields{
		"market_id": b.marketID,
		"s3_key":    key,
		"records":   len(items),
		"bytes":     body.Len(),
	}).Debug("buffer flushed to s3")
	logger.IncrementBufferFlush(len(items))
	return nil
}
