package docstore

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"github.com/iurnickita/homecare/internal/docstore/config"
)

const uploadPath = "/api/documents"

// JSON ответ хранилища документов
type UploadAnswer struct {
	ID string `json:"id"`
}

type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

type Client struct {
	client *resty.Client
}

// NewClient возвращает nil, если адрес не задан: выгрузка отключена
func NewClient(cfg config.Config) *Client {
	if cfg.Addr == "" {
		return nil
	}
	client := resty.New().SetBaseURL(cfg.Addr)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &Client{client: client}
}

// Upload отправляет файл и возвращает идентификатор документа
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	var answer UploadAnswer
	resp, err := c.client.R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(map[string]string{"name": filepath.Base(path)}).
		SetResult(&answer).
		Post(uploadPath)
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", path)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		if answer.ID == "" {
			return "", errors.Newf("docstore answer without id for %s", path)
		}
		return answer.ID, nil
	default:
		return "", errors.Newf("docstore upload status: %d", resp.StatusCode())
	}
}
