package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"screener-engine/src/models"
	"screener-engine/src/utils"
)

// chartResponse is the subset of the v8 chart payload the feed reads.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol          string `json:"symbol"`
				DataGranularity string `json:"dataGranularity"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// -----------------------------------------------------------------------------

// parseChart turns a chart payload into bars of res, oldest first. Points
// with a missing field, a non-positive close or a negative volume are
// skipped. Daily bars are restamped at exchange-local midnight.
func parseChart(symbol string, res models.Resolution, data []byte, cal *utils.TradingCalendar) ([]models.MBar, int, error) {
	var resp chartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, 0, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if resp.Chart.Error != nil {
		return nil, 0, fmt.Errorf("chart api error: %s - %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, 0, fmt.Errorf("no result in response for %s", symbol)
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 {
		return nil, 0, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, 0, fmt.Errorf("no quote data in response for %s", symbol)
	}

	quote := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(quote.Open) != n || len(quote.High) != n || len(quote.Low) != n || len(quote.Close) != n || len(quote.Volume) != n {
		return nil, 0, fmt.Errorf("data alignment error for %s", symbol)
	}

	bars := make([]models.MBar, 0, n)
	skipped := 0
	for i, ts := range result.Timestamp {
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil || quote.Volume[i] == nil {
			skipped++
			continue
		}
		bar := models.MBar{
			Symbol:     symbol,
			Resolution: res,
			Timestamp:  time.Unix(ts, 0).UTC(),
			Open:       *quote.Open[i],
			High:       *quote.High[i],
			Low:        *quote.Low[i],
			Close:      *quote.Close[i],
			Volume:     *quote.Volume[i],
		}
		if bar.Close <= 0 || bar.Volume < 0 || bar.High < bar.Low {
			skipped++
			continue
		}
		if res == models.ResolutionDay {
			bar.Timestamp = cal.StartOfDay(bar.Timestamp).UTC()
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, skipped, nil
}
