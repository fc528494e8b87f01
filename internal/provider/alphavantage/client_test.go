package alphavantage_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"indexwatch/internal/provider/alphavantage"
)

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	buffer := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buffer).Encode(body))
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(buffer),
	}
}

func TestNewAPIClient(t *testing.T) {
	t.Parallel()

	// Assert: a valid key should return a configured client.
	client, err := alphavantage.NewAPIClient("test")
	require.NoErrorf(t, err, "unexpected error: %v", err)
	require.NotNilf(t, client, "unexpected nil client")
	require.True(t, client.Configured())
}

func TestNewAPIClient_EmptyKeyNeverDispatches(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock http client that must not be called
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	client, err := alphavantage.NewAPIClient("", alphavantage.WithHTTPClient(httpClient))
	require.NoError(t, err)
	require.False(t, client.Configured())

	// Act: call both endpoints
	_, _, err = client.GetGlobalQuote(t.Context(), "SPY")
	require.ErrorIs(t, err, alphavantage.ErrMissingAPIKey)
	_, _, err = client.GetTimeSeriesDaily(t.Context(), "SPY")
	require.ErrorIs(t, err, alphavantage.ErrMissingAPIKey)
}

func TestWithBaseURL(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock http client
	httpClient := NewMockHTTPClient(ctrl)

	baseURL := "http://localhost:8080"

	// Assert: the request should go to the custom base url
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Truef(t, strings.HasPrefix(req.URL.String(), baseURL), "expected url to start with base url, received: %s", req.URL.String())
			return jsonResponse(t, http.StatusOK, map[string]any{}), nil
		}).
		Times(1)

	client, err := alphavantage.NewAPIClient("test", alphavantage.WithHTTPClient(httpClient), alphavantage.WithBaseURL(baseURL))
	require.NoError(t, err)

	// Act: call GetGlobalQuote
	_, _, err = client.GetGlobalQuote(t.Context(), "SPY")
	require.NoError(t, err)
}

func TestWithHeader(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller and http client
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: client and per-call headers are both sent
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "client", req.Header.Get("X-Client"))
			require.Equal(t, "call", req.Header.Get("X-Call"))
			return jsonResponse(t, http.StatusOK, map[string]any{}), nil
		}).
		Times(1)

	client, err := alphavantage.NewAPIClient("test",
		alphavantage.WithHTTPClient(httpClient),
		alphavantage.WithHeader(http.Header{"X-Client": []string{"client"}}),
	)
	require.NoError(t, err)

	// Act: call with a per-call header override
	_, _, err = client.GetGlobalQuote(t.Context(), "SPY", alphavantage.WithHeader(http.Header{"X-Call": []string{"call"}}))
	require.NoError(t, err)
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		status int
		msg    string
	}{
		{http.StatusForbidden, "unauthorized"},
		{http.StatusTooManyRequests, "rate limited"},
		{http.StatusBadGateway, "unexpected status code: 502"},
	} {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()

			// Arrange: stub a non-200 response
			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().
				Do(gomock.Any()).
				Return(jsonResponse(t, tc.status, map[string]any{}), nil).
				Times(1)

			client, err := alphavantage.NewAPIClient("test", alphavantage.WithHTTPClient(httpClient))
			require.NoError(t, err)

			// Act
			_, _, err = client.GetTimeSeriesDaily(t.Context(), "SPY")

			// Assert: the status is exposed as a StatusError
			var statusErr *alphavantage.StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, tc.status, statusErr.StatusCode)
			require.EqualError(t, err, tc.msg)
		})
	}
}

func TestPerformingRequestError(t *testing.T) {
	t.Parallel()

	// Arrange: the transport fails
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	boom := errors.New("connection refused")
	httpClient.EXPECT().Do(gomock.Any()).Return(nil, boom).Times(1)

	client, err := alphavantage.NewAPIClient("test", alphavantage.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act
	_, _, err = client.GetGlobalQuote(t.Context(), "SPY")

	// Assert
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "performing request")
}
