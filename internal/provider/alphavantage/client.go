package alphavantage

import (
	"errors"
	"net/http"
	"net/url"
)

// DefaultBaseURL is the public Alpha Vantage endpoint.
const DefaultBaseURL = "https://www.alphavantage.co"

// ErrMissingAPIKey is returned by every call on a client built without a key.
// No request is sent in that case.
var ErrMissingAPIKey = errors.New("alpha vantage api key is not configured")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient is a client for the Alpha Vantage API.
type APIClient struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
	hasKey bool
}

// APIClientOption is a configuration option for the Alpha Vantage API client.
type APIClientOption func(*APIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) APIClientOption {
	return func(c *APIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) APIClientOption {
	return func(c *APIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewAPIClient creates a new Alpha Vantage API client. An empty key is
// accepted so the server can start; calls then fail with ErrMissingAPIKey.
func NewAPIClient(key string, options ...APIClientOption) (*APIClient, error) {
	var client = &APIClient{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if key != "" {
		// https://www.alphavantage.co/documentation/
		client.query.Add("apikey", key)
		client.hasKey = true
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Configured reports whether the client carries an API key.
func (c *APIClient) Configured() bool { return c.hasKey }

func (c *APIClient) override(opts []APIClientOption) *APIClient {
	var o = &APIClient{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
		hasKey:     c.hasKey,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
