package marketdata

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/karanmehta/quantdesk/internal/domain"
)

const tradingDaysPerYear = 252

// ReturnMetrics summarizes price performance over standard lookbacks.
type ReturnMetrics struct {
	DailyReturn   float64 `json:"daily_return"`
	WeeklyReturn  float64 `json:"weekly_return"`
	MonthlyReturn float64 `json:"monthly_return"`
	YearlyReturn  float64 `json:"yearly_return"`
	PeriodDays    int     `json:"period_days"`
}

// VolatilityMetrics summarizes realized volatility. Values are percentages.
type VolatilityMetrics struct {
	DailyVolatility      float64 `json:"volatility"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	AvgDailyRange        float64 `json:"avg_daily_range"`
	PeriodDays           int     `json:"period_days"`
}

// DataGap marks a hole in a candle series larger than expected for the
// interval.
type DataGap struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Duration string    `json:"gap_duration"`
	Days     int       `json:"gap_days"`
}

// CalculateReturns computes return metrics over up to periodDays daily bars.
func (s *Service) CalculateReturns(instrument string, periodDays int) (*ReturnMetrics, error) {
	if periodDays <= 0 {
		periodDays = tradingDaysPerYear
	}

	candles, err := s.GetDailyCandles(instrument, periodDays+30)
	if err != nil {
		return nil, err
	}
	if len(candles) < 2 {
		return &ReturnMetrics{PeriodDays: len(candles)}, nil
	}

	latest := candles[len(candles)-1].Close
	return &ReturnMetrics{
		DailyReturn:   percentChange(candles[len(candles)-2].Close, latest),
		WeeklyReturn:  percentChange(closeAt(candles, 5), latest),
		MonthlyReturn: percentChange(closeAt(candles, 22), latest),
		YearlyReturn:  percentChange(candles[0].Close, latest),
		PeriodDays:    len(candles),
	}, nil
}

// CalculateVolatility computes realized volatility over periodDays daily
// bars. Annualization uses sqrt(252).
func (s *Service) CalculateVolatility(instrument string, periodDays int) (*VolatilityMetrics, error) {
	if periodDays <= 0 {
		periodDays = 30
	}

	candles, err := s.GetDailyCandles(instrument, periodDays+10)
	if err != nil {
		return nil, err
	}
	if len(candles) < 5 {
		return &VolatilityMetrics{}, nil
	}

	returns := DailyReturns(Closes(candles))
	dailyVol := stat.StdDev(returns, nil)

	var rangeSum float64
	for _, c := range candles {
		if c.Close != 0 {
			rangeSum += (c.High - c.Low) / c.Close * 100
		}
	}

	return &VolatilityMetrics{
		DailyVolatility:      dailyVol * 100,
		AnnualizedVolatility: dailyVol * math.Sqrt(tradingDaysPerYear) * 100,
		AvgDailyRange:        rangeSum / float64(len(candles)),
		PeriodDays:           len(returns),
	}, nil
}

// DetectGaps finds holes in a candle series. Daily series tolerate weekend
// gaps up to 3 days; intraday series tolerate the overnight market close.
func DetectGaps(candles []domain.Candle, interval string) []DataGap {
	if len(candles) < 2 {
		return nil
	}

	maxGap := 18 * time.Hour
	if interval == "day" {
		maxGap = 3 * 24 * time.Hour
	}

	var gaps []DataGap
	for i := 1; i < len(candles); i++ {
		gap := candles[i].Timestamp.Sub(candles[i-1].Timestamp)
		if gap > maxGap {
			gaps = append(gaps, DataGap{
				From:     candles[i-1].Timestamp,
				To:       candles[i].Timestamp,
				Duration: gap.String(),
				Days:     int(gap.Hours() / 24),
			})
		}
	}
	return gaps
}

// SMA returns the simple moving average series for the closes.
func SMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	return talib.Sma(closes, period)
}

// EMA returns the exponential moving average series for the closes.
func EMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)
}

// RSI returns the latest Relative Strength Index value, or nil when the
// series is too short.
func RSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	series := talib.Rsi(closes, period)
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}

// Closes extracts the closing prices from a candle series.
func Closes(candles []domain.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// DailyReturns converts a price series to simple period-over-period returns.
func DailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	return returns
}

// closeAt returns the close n bars back from the end, clamping to the first
// bar on short series.
func closeAt(candles []domain.Candle, back int) float64 {
	idx := len(candles) - back
	if idx < 0 {
		idx = 0
	}
	return candles[idx].Close
}

func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
