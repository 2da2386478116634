package minio

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spirit-labs/tekagg/conf"
	"github.com/spirit-labs/tekagg/errors"
)

func NewMinioClient(cfg *conf.Config) *Client {
	return &Client{
		cfg: cfg,
	}
}

type Client struct {
	cfg    *conf.Config
	client *minio.Client
}

func (m *Client) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.cfg.MinioBucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, maybeConvertError(err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer obj.Close()
	buff, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, maybeConvertError(err)
	}
	return buff, nil
}

func (m *Client) Put(ctx context.Context, key string, value []byte) error {
	buff := bytes.NewBuffer(value)
	_, err := m.client.PutObject(ctx, m.cfg.MinioBucketName, key, buff, int64(len(value)),
		minio.PutObjectOptions{})
	return maybeConvertError(err)
}

func (m *Client) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.cfg.MinioBucketName, key, minio.RemoveObjectOptions{})
	if isNotFound(err) {
		return nil
	}
	return maybeConvertError(err)
}

func (m *Client) Start() error {
	client, err := minio.New(m.cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.cfg.MinioAccessKey, m.cfg.MinioSecretKey, ""),
		Secure: m.cfg.MinioSecure,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	m.client = client
	return nil
}

func (m *Client) Stop() error {
	m.client = nil
	return nil
}

func isNotFound(err error) bool {
	var merr minio.ErrorResponse
	if errors.As(err, &merr) {
		return merr.StatusCode == 404
	}
	return false
}

func maybeConvertError(err error) error {
	if err == nil {
		return err
	}
	return errors.NewUnavailableErrorf("%s", err.Error())
}
