package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/omlserver/oml/transport"
)

var _ transport.ModelClient = (*Client)(nil)

// Client is a transport.ModelClient that talks
// to the REST frontend
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL,
// for example http://localhost:8080. A nil httpClient
// means http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// Infer implements transport.ModelClient.Infer
func (client *Client) Infer(ctx context.Context, x float64) (float64, error) {
	body, err := client.post(ctx, "/inference", x)

	if err != nil {
		return 0, err
	}

	var y float64

	if err := json.Unmarshal(body, &y); err != nil {
		return 0, fmt.Errorf("could not decode prediction: %w", err)
	}

	return y, nil
}

// Train implements transport.ModelClient.Train
func (client *Client) Train(ctx context.Context, x float64) error {
	_, err := client.post(ctx, "/training", x)

	return err
}

// Parameters implements transport.ModelClient.Parameters
func (client *Client) Parameters(ctx context.Context, revision int64) (transport.Parameters, error) {
	var parameters transport.Parameters

	url := client.baseURL + "/parameters"

	if revision > 0 {
		url += "?revision=" + strconv.FormatInt(revision, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	if err != nil {
		return parameters, err
	}

	body, err := client.do(req)

	if err != nil {
		return parameters, err
	}

	if err := json.Unmarshal(body, &parameters); err != nil {
		return parameters, fmt.Errorf("could not decode parameters: %w", err)
	}

	return parameters, nil
}

func (client *Client) post(ctx context.Context, path string, x float64) ([]byte, error) {
	encoded, err := json.Marshal(x)

	if err != nil {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidRequest, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+path, bytes.NewReader(encoded))

	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	return client.do(req)
}

func (client *Client) do(req *http.Request) ([]byte, error) {
	resp, err := client.httpClient.Do(req)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)

	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	kind := errorKind(resp.StatusCode)

	if kind == nil {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bodyMessage(body))
	}

	return nil, &transport.Error{Kind: kind, Message: bodyMessage(body)}
}

// errorKind is the inverse of StatusCode
func errorKind(status int) error {
	switch status {
	case http.StatusInternalServerError:
		return transport.ErrServerFault
	case http.StatusGatewayTimeout:
		return transport.ErrTimeout
	case http.StatusBadRequest:
		return transport.ErrInvalidRequest
	case http.StatusServiceUnavailable:
		return transport.ErrUnavailable
	case http.StatusGone:
		return transport.ErrGone
	}

	return nil
}
