package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
)

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	switch e.StatusCode {
	case http.StatusForbidden, http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate limited"
	default:
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
}

// Notice carries the informational fields Alpha Vantage returns with a 200
// status instead of data, e.g. when its own call frequency limit is hit.
type Notice struct {
	Note         string `json:"Note,omitempty"`
	Information  string `json:"Information,omitempty"`
	ErrorMessage string `json:"Error Message,omitempty"`
}

// Message returns the first non-empty notice field.
func (n Notice) Message() string {
	switch {
	case n.ErrorMessage != "":
		return n.ErrorMessage
	case n.Note != "":
		return n.Note
	default:
		return n.Information
	}
}

// get performs GET {base}/query?function=fn&symbol=symbol and decodes into out.
func (c *APIClient) get(ctx context.Context, function, symbol string, out any, opts []APIClientOption) error {
	override := c.override(opts)
	if !override.hasKey {
		return ErrMissingAPIKey
	}

	query := maps.Clone(override.query)
	query.Set("function", function)
	query.Set("symbol", symbol)

	url := fmt.Sprintf("%s/query?%s", override.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header

	res, err := override.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: res.StatusCode}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", function, err)
	}
	return nil
}
