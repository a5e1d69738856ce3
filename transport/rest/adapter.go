// Package rest provides the HTTP implementation of the offlinesync
// NetworkAdapter against the practice-management REST backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	offlinesync "github.com/lexflow/go-offline-sync"
	syncErrors "github.com/lexflow/go-offline-sync/errors"
	"github.com/lexflow/go-offline-sync/logging"
)

// endpoints is the fixed mapping from data type to backend collection
// path, one entry per enumerated data type. Endpoint shape lives here, at
// the adapter boundary, never at call sites.
var endpoints = map[offlinesync.DataType]string{
	offlinesync.DataTypeCase:      "/cases",
	offlinesync.DataTypeClient:    "/clients",
	offlinesync.DataTypeDocument:  "/documents",
	offlinesync.DataTypeTimeEntry: "/time-entries",
	offlinesync.DataTypeInvoice:   "/invoices",
	offlinesync.DataTypeExpense:   "/expenses",
	offlinesync.DataTypeTask:      "/tasks",
	offlinesync.DataTypeMessage:   "/messages",
}

const defaultTimeout = 30 * time.Second

// Config configures the REST adapter.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com/api/v1".
	BaseURL string

	// Tokens supplies the bearer credential attached to every request.
	Tokens offlinesync.TokenSource

	// Timeout applies per request. Defaults to 30s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client

	// Logger is an optional structured logger.
	Logger *logging.Logger
}

// Adapter performs create/update/delete calls against the REST backend
// and classifies every failure through the errors package so the
// coordinator can apply the right retry policy.
type Adapter struct {
	client    *http.Client
	baseURL   string
	tokens    offlinesync.TokenSource
	log       *logging.Logger
	userAgent string
}

// Compile-time check to ensure Adapter satisfies the NetworkAdapter interface
var _ offlinesync.NetworkAdapter = (*Adapter)(nil)

// New creates a REST adapter from the given config.
func New(config Config) (*Adapter, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("Tokens is required")
	}

	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		}
	}

	log := config.Logger
	if log == nil {
		log = logging.Default()
	}

	return &Adapter{
		client:    client,
		baseURL:   config.BaseURL,
		tokens:    config.Tokens,
		log:       log.WithComponent(logging.Component("rest-adapter")),
		userAgent: "offline-sync/1.0",
	}, nil
}

// Create issues POST {endpoint} with the payload as body.
func (a *Adapter) Create(ctx context.Context, dataType offlinesync.DataType, payload json.RawMessage) error {
	endpoint, err := a.endpointFor(syncErrors.OpCreate, dataType)
	if err != nil {
		return err
	}
	return a.do(ctx, syncErrors.OpCreate, http.MethodPost, endpoint, payload)
}

// Update issues PUT {endpoint}/{id}; the entity id is derived from the
// payload's "id" field.
func (a *Adapter) Update(ctx context.Context, dataType offlinesync.DataType, payload json.RawMessage) error {
	endpoint, err := a.endpointFor(syncErrors.OpUpdate, dataType)
	if err != nil {
		return err
	}
	id, err := entityID(syncErrors.OpUpdate, payload)
	if err != nil {
		return err
	}
	return a.do(ctx, syncErrors.OpUpdate, http.MethodPut, endpoint+"/"+id, payload)
}

// Delete issues DELETE {endpoint}/{id}; the entity id is derived from the
// payload's "id" field.
func (a *Adapter) Delete(ctx context.Context, dataType offlinesync.DataType, payload json.RawMessage) error {
	endpoint, err := a.endpointFor(syncErrors.OpDelete, dataType)
	if err != nil {
		return err
	}
	id, err := entityID(syncErrors.OpDelete, payload)
	if err != nil {
		return err
	}
	return a.do(ctx, syncErrors.OpDelete, http.MethodDelete, endpoint+"/"+id, nil)
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// endpointFor resolves the collection path for a data type.
func (a *Adapter) endpointFor(op syncErrors.Operation, dataType offlinesync.DataType) (string, error) {
	endpoint, ok := endpoints[dataType]
	if !ok {
		return "", syncErrors.NewClientError(op, 0,
			fmt.Errorf("no endpoint for data type %q", dataType))
	}
	return endpoint, nil
}

// entityID extracts the entity id update and delete need for their URL.
// A payload without one can never be applied, so the error is terminal.
func entityID(op syncErrors.Operation, payload json.RawMessage) (string, error) {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", syncErrors.NewClientError(op, 0,
			fmt.Errorf("payload is not an object: %w", err))
	}
	if envelope.ID == "" {
		return "", syncErrors.NewClientError(op, 0,
			fmt.Errorf("payload has no entity id"))
	}
	return envelope.ID, nil
}

// do executes one request and maps the outcome onto the error taxonomy.
func (a *Adapter) do(ctx context.Context, op syncErrors.Operation, method, path string, body json.RawMessage) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return syncErrors.NewClientError(op, 0, fmt.Errorf("build request: %w", err))
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		return syncErrors.NewNetworkError(op, fmt.Errorf("obtain token: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", a.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Timeouts, DNS failures, refused connections: the backend was
		// never reached, so the operation is safe to retry.
		return syncErrors.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a.log.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return nil
	}

	return classifyStatus(op, resp)
}

// classifyStatus maps a non-2xx response onto the error taxonomy:
// 409 -> conflict, other 4xx -> terminal client error, everything else
// -> retryable server error.
func classifyStatus(op syncErrors.Operation, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("backend returned %s: %s", resp.Status, bytes.TrimSpace(snippet))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return syncErrors.NewConflictError(op, resp.StatusCode, cause)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return syncErrors.NewClientError(op, resp.StatusCode, cause)
	default:
		return syncErrors.NewServerError(op, resp.StatusCode, cause)
	}
}
