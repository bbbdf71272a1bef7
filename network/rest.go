package network

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Compile-time interface check.
var _ BlockchainService = (*RESTClient)(nil)

// RESTClient talks to a WhatsOnChain-compatible REST API.
type RESTClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewRESTClient creates a REST client. A nil httpClient selects a client
// with cfg.Timeout; callers that inject their own client own its timeout.
func NewRESTClient(cfg RESTConfig, httpClient *http.Client) (*RESTClient, error) {
	initPrometheusMetrics()

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: empty REST base URL", ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &RESTClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

type restUnspent struct {
	TxHash             string `json:"tx_hash"`
	TxPos              uint32 `json:"tx_pos"`
	Value              uint64 `json:"value"`
	Height             int64  `json:"height"`
	Confirmations      int64  `json:"confirmations"`
	IsSpentInMempoolTx bool   `json:"isSpentInMempoolTx"`
}

type restTxInfo struct {
	TxID          string `json:"txid"`
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   uint64 `json:"blockheight"`
}

func observeREST(op string, start time.Time, err error) {
	prometheusChainRequests.WithLabelValues("rest", op, outcomeLabel(err)).Inc()
	prometheusChainDuration.WithLabelValues("rest", op).Observe(time.Since(start).Seconds())
}

// ListUnspent calls GET /address/{address}/unspent and drops outputs that a
// mempool transaction has already spent.
func (c *RESTClient) ListUnspent(ctx context.Context, address string) (utxos []*UTXO, err error) {
	defer func(start time.Time) { observeREST("list_unspent", start, err) }(time.Now())

	body, err := c.do(ctx, http.MethodGet, "/address/"+url.PathEscape(address)+"/unspent", nil)
	if err != nil {
		return nil, err
	}

	var entries []restUnspent
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode unspent: %w", ErrInvalidResponse, err)
	}

	utxos = make([]*UTXO, 0, len(entries))
	for _, e := range entries {
		utxos = append(utxos, &UTXO{
			TxID:           e.TxHash,
			Vout:           e.TxPos,
			Amount:         e.Value,
			Address:        address,
			Confirmations:  e.Confirmations,
			Height:         e.Height,
			SpentInMempool: e.IsSpentInMempoolTx,
		})
	}
	return filterMempoolSpent(utxos), nil
}

// Submit calls POST /tx/raw with {"txhex": ...}. The service answers with
// the txid as a JSON string.
func (c *RESTClient) Submit(ctx context.Context, rawTx []byte) (txid string, err error) {
	defer func(start time.Time) { observeREST("submit", start, err) }(time.Now())

	payload, err := json.Marshal(map[string]string{"txhex": hex.EncodeToString(rawTx)})
	if err != nil {
		return "", fmt.Errorf("network: marshal broadcast: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/tx/raw", payload)
	if err != nil {
		return "", err
	}

	txid = strings.Trim(strings.TrimSpace(string(body)), `"`)
	if txid == "" {
		return "", fmt.Errorf("%w: empty txid", ErrInvalidResponse)
	}
	return txid, nil
}

// GetTxStatus calls GET /tx/hash/{txid}.
func (c *RESTClient) GetTxStatus(ctx context.Context, txid string) (status *TxStatus, err error) {
	defer func(start time.Time) { observeREST("tx_status", start, err) }(time.Now())

	body, err := c.do(ctx, http.MethodGet, "/tx/hash/"+url.PathEscape(txid), nil)
	if err != nil {
		return nil, err
	}

	var info restTxInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: decode tx: %w", ErrInvalidResponse, err)
	}
	return &TxStatus{
		Confirmed:     info.Confirmations > 0,
		Confirmations: info.Confirmations,
		BlockHash:     info.BlockHash,
		BlockHeight:   info.BlockHeight,
	}, nil
}

// do performs one rate-limited request and classifies the outcome.
func (c *RESTClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrTransport, err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("network: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyStatus maps a REST status code onto the network error taxonomy.
func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejectedByNetwork, code, truncate(body, 256))
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP 404", ErrTxNotFound)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuthFailed, code)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrTransport, code, truncate(body, 256))
	}
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
