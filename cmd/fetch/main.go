package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"indexwatch/internal/config"
	"indexwatch/internal/httpx"
	"indexwatch/internal/indices"
	"indexwatch/internal/logging"
	"indexwatch/internal/provider"
	"indexwatch/internal/provider/alphavantage"
	"indexwatch/internal/provider/alphavantageadapter"
	"indexwatch/internal/provider/cache"
	"indexwatch/internal/provider/gated"
	"indexwatch/internal/provider/ratelimit"
)

type output struct {
	Quotes  []provider.Quote       `json:"quotes,omitempty"`
	Details []provider.QuoteDetail `json:"details,omitempty"`
	// RateLimit counts only this run's requests.
	RateLimit ratelimit.Usage `json:"rateLimit"`
}

func main() {
	var symbolsCSV string
	var detail bool
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", "", "comma-separated symbols (default: tracked set)")
	flag.BoolVar(&detail, "detail", false, "fetch quote plus daily history for each symbol")
	flag.IntVar(&timeout, "timeout", 60, "overall timeout seconds")
	flag.StringVar(&configPath, "config", "", "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	symbols := cfg.AlphaVantage.Symbols
	if symbolsCSV != "" {
		symbols = splitCSV(symbolsCSV)
	}
	if len(symbols) == 0 {
		log.Fatal().Msg("no symbols provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	out, err := fetch(ctx, cfg, symbols, detail, log)
	if err != nil {
		log.Fatal().Err(err).Msg("fetch failed")
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func fetch(ctx context.Context, cfg config.Config, symbols []string, detail bool, log zerolog.Logger) (output, error) {
	clock := clockwork.NewRealClock()

	client, err := alphavantage.NewAPIClient(
		cfg.AlphaVantage.APIKey,
		alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL),
		alphavantage.WithHTTPClient(httpx.New(cfg.Server.RequestTimeout())),
		alphavantage.WithHeader(http.Header{"User-Agent": []string{httpx.DefaultUserAgent}}),
	)
	if err != nil {
		return output{}, fmt.Errorf("alpha vantage client: %w", err)
	}
	var p provider.Provider = alphavantageadapter.New(alphavantageadapter.Config{}, client)
	if interval := cfg.AlphaVantage.MinRequestInterval(); interval > 0 {
		p = &ratelimit.MinInterval{P: p, Interval: interval, Clock: clock}
	}

	fetcher := gated.New(p,
		ratelimit.NewMemoryLimiter(cfg.Quota.Limits(), clock),
		cache.New[provider.Quote]("quotes", cfg.Cache.TTL(), clock),
		cache.New[[]provider.HistoricalPoint]("history", cfg.Cache.HistoryTTL(), clock),
		gated.Config{QuoteTTL: cfg.Cache.TTL(), HistoryTTL: cfg.Cache.HistoryTTL()},
		log,
	)
	service := indices.NewService(fetcher, symbols, log)

	var out output
	if detail {
		for _, sym := range service.Symbols() {
			d, err := service.Detail(ctx, sym)
			if err != nil {
				log.Error().Err(err).Str("symbol", sym).Msg("detail unavailable")
				continue
			}
			out.Details = append(out.Details, d)
		}
	} else {
		out.Quotes, err = service.All(ctx)
		if err != nil {
			return output{}, err
		}
	}
	log.Info().Int("quotes", len(out.Quotes)).Int("details", len(out.Details)).Msg("fetched")

	out.RateLimit, err = fetcher.Usage(ctx)
	if err != nil {
		return output{}, fmt.Errorf("usage: %w", err)
	}
	return out, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
