package provider

import (
	"context"
	"errors"
	"fmt"
)

// Quote is the normalized shape of a live index quote.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	// Timestamp is the latest trading day reported upstream (YYYY-MM-DD).
	Timestamp string `json:"timestamp"`
}

// HistoricalPoint is one daily bar of an index.
type HistoricalPoint struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// QuoteDetail combines a quote with its recent history, oldest point first.
type QuoteDetail struct {
	Symbol         string            `json:"symbol"`
	Name           string            `json:"name"`
	CurrentValue   float64           `json:"currentValue"`
	Change         float64           `json:"change"`
	ChangePercent  float64           `json:"changePercent"`
	Timestamp      string            `json:"timestamp"`
	HistoricalData []HistoricalPoint `json:"historicalData"`
}

// Provider is the upstream market-data collaborator.
type Provider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	FetchHistory(ctx context.Context, symbol string) ([]HistoricalPoint, error)
}

var (
	// ErrNoData reports a well-formed upstream response that lacks the expected fields.
	ErrNoData = errors.New("no data returned")

	// ErrNotConfigured reports a missing upstream credential. It is returned
	// before anything is dispatched upstream.
	ErrNotConfigured = errors.New("provider is not configured")

	// ErrNotDispatched reports a call abandoned before it reached upstream,
	// for example while waiting for request spacing.
	ErrNotDispatched = errors.New("request not dispatched")
)

// TransportError wraps an unreachable upstream or a non-2xx response.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
