package alphavantage

import "context"

// DailyBar is one entry of the TIME_SERIES_DAILY series.
type DailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// SeriesMetaData is the "Meta Data" block of a series response.
type SeriesMetaData struct {
	Information   string `json:"1. Information"`
	Symbol        string `json:"2. Symbol"`
	LastRefreshed string `json:"3. Last Refreshed"`
}

// TimeSeriesDaily is the raw TIME_SERIES_DAILY payload keyed by YYYY-MM-DD.
type TimeSeriesDaily struct {
	MetaData SeriesMetaData      `json:"Meta Data"`
	Series   map[string]DailyBar `json:"Time Series (Daily)"`
}

type timeSeriesDailyResponse struct {
	Notice
	TimeSeriesDaily
}

// GetTimeSeriesDaily retrieves the compact daily series for symbol. As with
// GetGlobalQuote, a response without a series is returned with a nil Series.
func (c *APIClient) GetTimeSeriesDaily(ctx context.Context, symbol string, opts ...APIClientOption) (TimeSeriesDaily, Notice, error) {
	var body timeSeriesDailyResponse
	if err := c.get(ctx, "TIME_SERIES_DAILY", symbol, &body, opts); err != nil {
		return TimeSeriesDaily{}, Notice{}, err
	}
	return body.TimeSeriesDaily, body.Notice, nil
}
