package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/swarmgrid/swarm-core/internal/config"
	"github.com/swarmgrid/swarm-core/internal/storage"
	"github.com/swarmgrid/swarm-core/internal/tracer"
)

// MinioClient wraps the MinIO SDK client over the hot and cold buckets.
type MinioClient struct {
	client    *minio.Client
	cfg       *config.MinioConfig
	transport *http.Transport
}

func NewMinioClient() (storage.Storage, error) {
	cfg, err := config.GetMinioConfig()
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
		DisableKeepAlives:     false,
	}

	cli, err := minio.New(cfg.URL, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.ACCESS_KEY, cfg.SECRET_KEY, ""),
		Secure:    cfg.USE_SSL,
		Transport: transport,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{client: cli, cfg: cfg, transport: transport}, nil
}

func (m *MinioClient) Upload(ctx context.Context, objectPath string, data []byte) error {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "MinIO/Upload")
	defer span.End()

	reader := bytes.NewReader(data)
	_, err := m.client.PutObject(ctx, m.cfg.HOT_BUCKET, objectPath, reader,
		int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		tracer.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (m *MinioClient) Download(ctx context.Context, objectPath string) ([]byte, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "MinIO/Download")
	defer span.End()

	object, err := m.client.GetObject(ctx, m.cfg.HOT_BUCKET, objectPath, minio.GetObjectOptions{})
	if err != nil {
		tracer.RecordSpanError(span, err)
		return nil, err
	}
	defer object.Close()

	if _, err := object.Stat(); err != nil {
		tracer.RecordSpanError(span, err)
		return nil, err
	}

	data, err := io.ReadAll(object)
	if err != nil {
		tracer.RecordSpanError(span, err)
		return nil, err
	}
	return data, nil
}

// MoveToCold server-side copies the object into the cold bucket and
// removes the hot copy.
func (m *MinioClient) MoveToCold(ctx context.Context, objectPath string) error {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "MinIO/MoveToCold")
	defer span.End()

	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.cfg.COLD_BUCKET, Object: objectPath},
		minio.CopySrcOptions{Bucket: m.cfg.HOT_BUCKET, Object: objectPath},
	)
	if err != nil {
		tracer.RecordSpanError(span, err)
		return err
	}
	err = m.client.RemoveObject(ctx, m.cfg.HOT_BUCKET, objectPath, minio.RemoveObjectOptions{})
	if err != nil {
		tracer.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (m *MinioClient) ShutDown(ctx context.Context) {
	m.transport.CloseIdleConnections()
}
