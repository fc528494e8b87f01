// Package indices assembles the tracked index views served over HTTP and
// pushed to real-time clients.
package indices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"indexwatch/internal/provider"
)

// DefaultSymbols is the tracked symbol set used when none is configured.
var DefaultSymbols = []string{"SPY", "DIA", "QQQ", "IWM", "VTI"}

// Fetcher is the gated read path used by the service.
type Fetcher interface {
	Quote(ctx context.Context, symbol string) (provider.Quote, error)
	History(ctx context.Context, symbol string) ([]provider.HistoricalPoint, error)
}

// Service reads quotes for the tracked symbol set.
type Service struct {
	fetcher Fetcher
	symbols []string
	log     zerolog.Logger
}

func NewService(fetcher Fetcher, symbols []string, log zerolog.Logger) *Service {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			norm = append(norm, s)
		}
	}
	return &Service{
		fetcher: fetcher,
		symbols: norm,
		log:     log.With().Str("component", "indices").Logger(),
	}
}

// Symbols returns a copy of the tracked set.
func (s *Service) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// All fetches every tracked symbol strictly one after another. A symbol that
// fails is logged and left out. Only a missing upstream credential aborts,
// since no symbol can succeed without it.
func (s *Service) All(ctx context.Context) ([]provider.Quote, error) {
	out := make([]provider.Quote, 0, len(s.symbols))
	for _, sym := range s.symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		q, err := s.fetcher.Quote(ctx, sym)
		if errors.Is(err, provider.ErrNotConfigured) {
			return nil, err
		}
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("quote unavailable, omitting")
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// Detail returns the quote and its recent daily history. The two reads run
// concurrently; a symbol without history still yields a detail with an empty
// series. A symbol without a quote reports provider.ErrNoData.
func (s *Service) Detail(ctx context.Context, symbol string) (provider.QuoteDetail, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return provider.QuoteDetail{}, fmt.Errorf("empty symbol: %w", provider.ErrNoData)
	}

	var (
		quote   provider.Quote
		history []provider.HistoricalPoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		quote, err = s.fetcher.Quote(gctx, symbol)
		return err
	})
	g.Go(func() error {
		h, err := s.fetcher.History(gctx, symbol)
		if errors.Is(err, provider.ErrNoData) {
			s.log.Debug().Str("symbol", symbol).Msg("no history available")
			return nil
		}
		history = h
		return err
	})
	if err := g.Wait(); err != nil {
		return provider.QuoteDetail{}, err
	}

	if history == nil {
		history = []provider.HistoricalPoint{}
	}
	return provider.QuoteDetail{
		Symbol:         quote.Symbol,
		Name:           quote.Name,
		CurrentValue:   quote.Value,
		Change:         quote.Change,
		ChangePercent:  quote.ChangePercent,
		Timestamp:      quote.Timestamp,
		HistoricalData: history,
	}, nil
}
