package alphavantage

import "context"

// GlobalQuote is the raw GLOBAL_QUOTE payload. Alpha Vantage sends every
// value as a string.
type GlobalQuote struct {
	Symbol           string `json:"01. symbol"`
	Open             string `json:"02. open"`
	High             string `json:"03. high"`
	Low              string `json:"04. low"`
	Price            string `json:"05. price"`
	Volume           string `json:"06. volume"`
	LatestTradingDay string `json:"07. latest trading day"`
	PreviousClose    string `json:"08. previous close"`
	Change           string `json:"09. change"`
	ChangePercent    string `json:"10. change percent"`
}

type globalQuoteResponse struct {
	Notice
	Quote GlobalQuote `json:"Global Quote"`
}

// GetGlobalQuote retrieves the latest quote for symbol. A response without
// quote data is not an error: the returned quote has an empty Symbol and the
// notice explains why, if upstream said so.
func (c *APIClient) GetGlobalQuote(ctx context.Context, symbol string, opts ...APIClientOption) (GlobalQuote, Notice, error) {
	var body globalQuoteResponse
	if err := c.get(ctx, "GLOBAL_QUOTE", symbol, &body, opts); err != nil {
		return GlobalQuote{}, Notice{}, err
	}
	return body.Quote, body.Notice, nil
}
