package watson

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

const (
	DefaultTokenURL     = "https://stream.watsonplatform.net/authorization/api/v1/token"
	defaultTokenTimeout = 30 * time.Second
	maxTokenSize        = 16 << 10
)

// TokenClient fetches short-lived socket tokens with Basic auth
type TokenClient struct {
	tokenURL   string
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure TokenClient implements the TokenProvider interface
var _ repositories.TokenProvider = (*TokenClient)(nil)

// NewTokenClient creates a token client; an empty tokenURL means DefaultTokenURL
func NewTokenClient(tokenURL string, timeout time.Duration, logger *zap.Logger) *TokenClient {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	return &TokenClient{
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Token implements repositories.TokenProvider
func (c *TokenClient) Token(ctx context.Context, credential entities.Credential) (string, error) {
	if err := credential.Validate(); err != nil {
		return "", domain.AuthError("token", err)
	}

	reqURL, err := url.Parse(c.tokenURL)
	if err != nil {
		return "", domain.NetworkError("token", fmt.Errorf("invalid token url: %w", err))
	}
	query := reqURL.Query()
	query.Set("url", credential.ServiceURL)
	reqURL.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", domain.NetworkError("token", err)
	}
	httpReq.Header.Set("Authorization", credential.BasicAuthorization())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.NetworkError("token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", domain.NetworkError("read token", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", domain.AuthError("token", fmt.Errorf("token service returned %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return "", domain.NetworkError("token", fmt.Errorf("token service returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", domain.ProtocolError("token", fmt.Errorf("token service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	token := string(bytes.TrimSpace(body))
	if token == "" {
		return "", domain.ProtocolError("token", errors.New("empty token"))
	}

	c.logger.Debug("Obtained service token", zap.String("service", credential.ServiceURL))
	return token, nil
}
