package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/token"
	"github.com/iudanet/gophsync/pkg/api"
)

// maxResponseSize ограничение тела ответа relay
const maxResponseSize = 64 << 20

// WriteKeyProvider выдает ключ записи владельца
type WriteKeyProvider interface {
	WriteKey(ctx context.Context, owner api.OwnerID) ([]byte, error)
}

// Option настраивает Client
type Option func(*Client)

// WithHTTPClient задает HTTP клиент (например, для тестов)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenTTL задает время жизни токенов доступа
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.tokenTTL = ttl
	}
}

// Client представляет HTTP клиент для взаимодействия с relay
type Client struct {
	httpClient *http.Client
	keys       WriteKeyProvider
	logger     *slog.Logger
	baseURL    string
	tokenTTL   time.Duration
}

// NewClient создает новый API клиент
func NewClient(baseURL string, keys WriteKeyProvider, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		keys:     keys,
		logger:   logger,
		tokenTTL: token.DefaultTTL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send отправляет кадр протокола владельца и возвращает кадр ответа.
// Незарегистрированный владелец регистрируется автоматически, запрос повторяется один раз.
func (c *Client) Send(ctx context.Context, owner api.OwnerID, frame []byte) ([]byte, error) {
	resp, err := c.sendOnce(ctx, owner, frame)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == api.CodeOwnerNotRegistered {
		c.logger.InfoContext(ctx, "Owner is not registered on relay, registering", "owner_id", owner.String())
		if _, err := c.RegisterOwner(ctx, owner); err != nil {
			return nil, err
		}
		return c.sendOnce(ctx, owner, frame)
	}

	return resp, err
}

func (c *Client) sendOnce(ctx context.Context, owner api.OwnerID, frame []byte) ([]byte, error) {
	bearer, err := c.signToken(ctx, owner)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+api.PathSync, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", api.ContentTypeProtocol)
	req.Header.Set("Authorization", "Bearer "+bearer)

	return c.do(req)
}

// RegisterOwner регистрирует ключ подписи токенов владельца на relay
func (c *Client) RegisterOwner(ctx context.Context, owner api.OwnerID) (*api.RegisterOwnerResponse, error) {
	writeKey, err := c.keys.WriteKey(ctx, owner)
	if err != nil {
		return nil, err
	}
	tokenKey, err := crypto.HashWriteKey(writeKey)
	if err != nil {
		return nil, err
	}

	var resp api.RegisterOwnerResponse
	err = c.doJSON(ctx, http.MethodPost, api.PathOwners, api.RegisterOwnerRequest{
		OwnerID:  owner.String(),
		TokenKey: tokenKey,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("register owner request failed: %w", err)
	}
	return &resp, nil
}

// Health проверяет доступность relay
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, api.PathHealth, nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

func (c *Client) signToken(ctx context.Context, owner api.OwnerID) (string, error) {
	writeKey, err := c.keys.WriteKey(ctx, owner)
	if err != nil {
		return "", err
	}
	tokenKey, err := crypto.TokenKey(writeKey)
	if err != nil {
		return "", err
	}
	return token.Sign(tokenKey, owner, c.tokenTTL)
}

// doJSON выполняет JSON запрос
func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := c.do(req)
	if err != nil {
		return err
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// do выполняет HTTP запрос и классифицирует ошибки
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Отмену вызывающего не выдаем за сетевую ошибку
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrNetwork, err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Status: resp.StatusCode, Message: string(respBody)}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			statusErr.Code = errResp.Code
			statusErr.Message = errResp.Error
			if errResp.Message != "" {
				statusErr.Message += ": " + errResp.Message
			}
		}
		statusErr.Kind = kindFor(resp.StatusCode, statusErr.Code)
		return nil, statusErr
	}

	return respBody, nil
}
