package forecast

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"insight-service/service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearMonthArithmetic(t *testing.T) {
	ym := YearMonth{Year: 2024, Month: time.November}
	assert.Equal(t, YearMonth{Year: 2025, Month: time.February}, ym.Add(3))
	assert.Equal(t, YearMonth{Year: 2024, Month: time.January}, ym.Add(-10))
	assert.Equal(t, "2024-11", ym.String())
	assert.Equal(t, "Nov", ym.Short())
	assert.Equal(t, "Nov 2024", ym.Long())
	assert.True(t, ym.Before(ym.Add(1)))

	raw, err := json.Marshal(Point{Period: ym, Value: 1})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"period":"2024-11"`)

	var p Point
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, ym, p.Period)

	_, err = ParseYearMonth("2024/11")
	assert.Error(t, err)
}

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAggregateMonthly(t *testing.T) {
	obs := []Observation{
		{Date: at(2024, 1, 5), Value: 10},
		{Date: at(2024, 1, 20), Value: 30},
		{Date: at(2024, 3, 1), Value: 5},
		{Date: time.Time{}, Value: 100},
		{Date: at(2024, 3, 2), Value: math.NaN()},
	}
	sum := AggregateMonthly(obs, AggregateSum)
	require.Len(t, sum, 3)
	assert.Equal(t, 40.0, sum[0].Value)
	assert.Equal(t, time.February, sum[1].Period.Month)
	assert.Equal(t, 0.0, sum[1].Value)

	mean := AggregateMonthly(obs, AggregateMean)
	require.Len(t, mean, 2)
	assert.Equal(t, 20.0, mean[0].Value)
	assert.Equal(t, 5.0, mean[1].Value)

	assert.Nil(t, AggregateMonthly(nil, AggregateSum))
}

func monthly(start YearMonth, values ...float64) []Point {
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Period: start.Add(i), Value: v}
	}
	return points
}

func TestForecastAppendsContiguousHorizon(t *testing.T) {
	start := YearMonth{Year: 2024, Month: time.August}
	history := monthly(start, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120)
	original := append([]Point(nil), history...)

	for _, horizon := range []int{6, 12} {
		cfg := config.Default().Forecast.Revenue
		cfg.Horizon = horizon
		cfg.YearlySeasonality = false
		out, err := NewForecaster(cfg, ClampNonNegative).Forecast(history)
		require.NoError(t, err)
		require.Len(t, out, len(history)+horizon)

		assert.Equal(t, original, out[:len(history)])
		for i := 1; i < len(out); i++ {
			assert.Equal(t, out[i-1].Period.Add(1), out[i].Period)
		}
		for i, p := range out {
			assert.Equal(t, i >= len(history), p.IsForecast)
		}
		assert.InDelta(t, 130.0, out[len(history)].Value, 1.0)
	}
	assert.Equal(t, original, history)
}

func TestForecastYearlySeasonality(t *testing.T) {
	start := YearMonth{Year: 2022, Month: time.January}
	values := make([]float64, 36)
	for i := range values {
		month := float64(start.Add(i).Index() % 12)
		values[i] = 100 + 20*math.Sin(2*math.Pi*month/12)
	}
	cfg := config.Default().Forecast.Revenue
	out, err := NewForecaster(cfg, nil).Forecast(monthly(start, values...))
	require.NoError(t, err)
	require.Len(t, out, 48)

	for h := 36; h < 48; h++ {
		month := float64(out[h].Period.Index() % 12)
		assert.InDelta(t, 100+20*math.Sin(2*math.Pi*month/12), out[h].Value, 1.0)
	}
}

func TestForecastClampAndEdgeCases(t *testing.T) {
	start := YearMonth{Year: 2024, Month: time.January}
	cfg := config.Default().Forecast.Churn

	out, err := NewForecaster(cfg, ClampRange(0, 1)).Forecast(monthly(start, 0.9, 0.6, 0.3))
	require.NoError(t, err)
	for _, p := range out[3:] {
		assert.GreaterOrEqual(t, p.Value, 0.0)
		assert.LessOrEqual(t, p.Value, 1.0)
	}

	single, err := NewForecaster(cfg, nil).Forecast(monthly(start, 0.4))
	require.NoError(t, err)
	require.Len(t, single, 7)
	assert.Equal(t, 0.4, single[6].Value)

	_, err = NewForecaster(cfg, nil).Forecast(nil)
	assert.True(t, errors.Is(err, ErrEmptySeries))

	unordered := []Point{{Period: start.Add(1)}, {Period: start}}
	_, err = NewForecaster(cfg, nil).Forecast(unordered)
	assert.True(t, errors.Is(err, ErrUnorderedSeries))
}

func TestChangepointsStayInLeadingHistory(t *testing.T) {
	start := YearMonth{Year: 2023, Month: time.January}
	values := make([]float64, 24)
	for i := range values {
		values[i] = float64(10 + i)
	}

	m := NewAdditiveModel(ModelOptions{ChangepointPriorScale: 0.05, MaxChangepoints: 25})
	require.NoError(t, m.Fit(monthly(start, values...)))
	cps := m.changepointPositions()
	require.Len(t, cps, 18)
	for i, c := range cps {
		assert.Greater(t, c, 0.0)
		assert.Less(t, c, changepointRange)
		if i > 0 {
			assert.Greater(t, c, cps[i-1])
		}
	}

	short := NewAdditiveModel(ModelOptions{ChangepointPriorScale: 0.05, MaxChangepoints: 25})
	require.NoError(t, short.Fit(monthly(start, 1, 2, 3, 4)))
	assert.Len(t, short.changepointPositions(), 2)

	single := NewAdditiveModel(ModelOptions{MaxChangepoints: 25})
	require.NoError(t, single.Fit(monthly(start, 5)))
	assert.Empty(t, single.changepointPositions())
}
