package alphavantageadapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"indexwatch/internal/aggregate"
	"indexwatch/internal/provider"
	"indexwatch/internal/provider/alphavantage"
)

// DefaultNames are the display names of the default tracked symbols.
var DefaultNames = map[string]string{
	"SPY": "S&P 500 ETF",
	"DIA": "Dow Jones ETF",
	"QQQ": "NASDAQ-100 ETF",
	"IWM": "Russell 2000 ETF",
	"VTI": "Total Stock Market ETF",
}

type Config struct {
	Name string // display name, default: AlphaVantage
	// Names maps symbols to display names; unknown symbols use the symbol.
	Names map[string]string
	// HistoryPoints caps the daily series, default 30.
	HistoryPoints int
}

// Adapter exposes the Alpha Vantage client as a provider.Provider.
type Adapter struct {
	cfg    Config
	client *alphavantage.APIClient
}

var _ provider.Provider = (*Adapter)(nil)

func New(cfg Config, client *alphavantage.APIClient) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "AlphaVantage"
	}
	if cfg.Names == nil {
		cfg.Names = DefaultNames
	}
	if cfg.HistoryPoints <= 0 {
		cfg.HistoryPoints = aggregate.DefaultHistoryPoints
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return a.cfg.Name }

// DisplayName returns the configured name for symbol.
func (a *Adapter) DisplayName(symbol string) string {
	if n, ok := a.cfg.Names[symbol]; ok {
		return n
	}
	return symbol
}

func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	raw, notice, err := a.client.GetGlobalQuote(ctx, symbol)
	if err != nil {
		return provider.Quote{}, mapErr("quote "+symbol, err)
	}
	if raw.Symbol == "" {
		return provider.Quote{}, noData("quote "+symbol, notice)
	}

	price, err1 := parseFloat(raw.Price)
	change, err2 := parseFloat(raw.Change)
	pct, err3 := parseFloat(strings.TrimSuffix(strings.TrimSpace(raw.ChangePercent), "%"))
	if err := errors.Join(err1, err2, err3); err != nil {
		return provider.Quote{}, fmt.Errorf("quote %s: %w: %v", symbol, provider.ErrNoData, err)
	}

	return provider.Quote{
		Symbol:        raw.Symbol,
		Name:          a.DisplayName(symbol),
		Value:         price,
		Change:        change,
		ChangePercent: pct,
		Timestamp:     raw.LatestTradingDay,
	}, nil
}

func (a *Adapter) FetchHistory(ctx context.Context, symbol string) ([]provider.HistoricalPoint, error) {
	raw, notice, err := a.client.GetTimeSeriesDaily(ctx, symbol)
	if err != nil {
		return nil, mapErr("history "+symbol, err)
	}
	if len(raw.Series) == 0 {
		return nil, noData("history "+symbol, notice)
	}

	points := make([]provider.HistoricalPoint, 0, len(raw.Series))
	for date, bar := range raw.Series {
		p, err := toPoint(date, bar)
		if err != nil {
			return nil, fmt.Errorf("history %s: %w: %v", symbol, provider.ErrNoData, err)
		}
		points = append(points, p)
	}
	return aggregate.NewestN(points, a.cfg.HistoryPoints), nil
}

func toPoint(date string, bar alphavantage.DailyBar) (provider.HistoricalPoint, error) {
	open, err1 := parseFloat(bar.Open)
	high, err2 := parseFloat(bar.High)
	low, err3 := parseFloat(bar.Low)
	cls, err4 := parseFloat(bar.Close)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return provider.HistoricalPoint{}, fmt.Errorf("bar %s: %w", date, err)
	}
	// volume is informational only
	vol, _ := parseFloat(bar.Volume)
	return provider.HistoricalPoint{Date: date, Open: open, High: high, Low: low, Close: cls, Volume: vol}, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func noData(op string, notice alphavantage.Notice) error {
	if msg := notice.Message(); msg != "" {
		return fmt.Errorf("%s: %w: %s", op, provider.ErrNoData, msg)
	}
	return fmt.Errorf("%s: %w", op, provider.ErrNoData)
}

func mapErr(op string, err error) error {
	if errors.Is(err, alphavantage.ErrMissingAPIKey) {
		return fmt.Errorf("%s: %w", op, provider.ErrNotConfigured)
	}
	var statusErr *alphavantage.StatusError
	if errors.As(err, &statusErr) {
		return &provider.TransportError{Op: op, StatusCode: statusErr.StatusCode, Err: err}
	}
	return &provider.TransportError{Op: op, Err: err}
}
