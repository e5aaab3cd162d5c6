package report

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"insight-service/service/config"
	"insight-service/service/dataset"
	"insight-service/service/forecast"
	"insight-service/service/segmentation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentColor(t *testing.T) {
	assert.Equal(t, "#FF6B6B", SegmentColor(segmentation.HighValueFrequent))
	assert.Equal(t, "#FFA500", SegmentColor(segmentation.AtRisk))
	assert.Equal(t, DefaultSegmentColor, SegmentColor("Mystery Shoppers"))
}

func TestIdentifierJSON(t *testing.T) {
	raw, err := json.Marshal([]Identifier{"42", "C-7", "007"})
	require.NoError(t, err)
	assert.JSONEq(t, `[42, "C-7", "007"]`, string(raw))

	var ids []Identifier
	require.NoError(t, json.Unmarshal([]byte(`[42, "C-7"]`), &ids))
	assert.Equal(t, []Identifier{"42", "C-7"}, ids)
}

func TestTopCustomersOrderingAndTies(t *testing.T) {
	customers := []ScoredCustomer{
		{ID: "10", Probability: 80},
		{ID: "9", Probability: 80},
		{ID: "3", Probability: 95.4},
		{ID: "4", Probability: 12.5},
	}
	top := topCustomers(customers, 10)
	require.Len(t, top, 4)
	assert.Equal(t, []Identifier{"3", "9", "10", "4"}, []Identifier{top[0].ID, top[1].ID, top[2].ID, top[3].ID})
	assert.Equal(t, 95, top[0].ChurnProbability)
	assert.Equal(t, 13, top[3].ChurnProbability)
	assert.Equal(t, "3", top[0].Name)

	var many []ScoredCustomer
	for i := 0; i < 25; i++ {
		many = append(many, ScoredCustomer{ID: strconv.Itoa(i), Probability: float64(i % 7)})
	}
	top = topCustomers(many, 10)
	require.Len(t, top, 10)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].ChurnProbability, top[i].ChurnProbability)
	}
}

func TestTrendLabels(t *testing.T) {
	start := forecast.YearMonth{Year: 2024, Month: time.March}
	var short, long []forecast.Point
	for i := 0; i < 8; i++ {
		short = append(short, forecast.Point{Period: start.Add(i)})
	}
	for i := 0; i < 14; i++ {
		long = append(long, forecast.Point{Period: start.Add(i)})
	}
	assert.Equal(t, "Mar", TrendLabels(short)[0])
	assert.Equal(t, "Oct", TrendLabels(short)[7])
	labels := TrendLabels(long)
	assert.Equal(t, "Mar 2024", labels[0])
	assert.Equal(t, "Mar 2025", labels[12])
}

func TestAssembleChurnReport(t *testing.T) {
	customers := []ScoredCustomer{
		{ID: "1", Country: "US", Category: "Books", Segment: segmentation.AtRisk, Probability: 90},
		{ID: "2", Country: "US", Category: "Books", Segment: segmentation.AtRisk, Probability: 71},
		{ID: "3", Country: "UK", Category: "Toys", Segment: segmentation.Regular, Probability: 10},
		{ID: "4", Country: "DE", Category: "Books", Segment: "Custom", Probability: 33.3},
	}
	start := forecast.YearMonth{Year: 2024, Month: time.January}
	trend := []forecast.Point{
		{Period: start, Value: 0.25},
		{Period: start.Add(1), Value: 0.304},
		{Period: start.Add(2), Value: 1.2, IsForecast: true},
	}
	r := AssembleChurnReport(ChurnInput{Customers: customers, Trend: trend, TopN: 10})

	assert.Equal(t, []ChurnTrend{{"Jan", 25}, {"Feb", 30}, {"Mar", 100}}, r.ChurnTrends)

	total := 0
	for _, s := range r.Segmentation {
		total += s.Value
		assert.NotEmpty(t, s.Color)
	}
	assert.Equal(t, len(customers), total)
	assert.Equal(t, segmentation.AtRisk, r.Segmentation[0].Name)
	assert.Equal(t, DefaultSegmentColor, r.Segmentation[1].Color)

	assert.Equal(t, []CountryRate{{"DE", 33}, {"UK", 10}, {"US", 81}}, r.Countries)

	require.Len(t, r.Categories, 2)
	assert.Equal(t, "Books", r.Categories[0].Name)
	assert.Equal(t, []CountryRate{{"DE", 33}, {"US", 81}}, r.Categories[0].CountryData)
	for _, c := range r.Categories {
		assert.NotEmpty(t, c.CountryData)
	}

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	for _, key := range []string{"topCustomers", "churnTrends", "segmentation", "countries", "categories"} {
		assert.Contains(t, string(raw), `"`+key+`"`)
	}
}

const salesCSV = `customer_id,age,gender,country,signup_date,last_purchase_date,subscription_status,cancellations_count,unit_price,quantity,purchase_frequency,category,Ratings,product_id,product_name
1,22,F,US,2023-01-01,2024-05-10,active,0,10,2,8,Books,4,100,Novel
1,22,F,US,2023-01-01,2024-06-01,active,0,5,1,8,Books,4,101,Comic
2,30,M,UK,2022-01-01,2024-04-01,active,0,50,1,2,Toys,3,200,Robot
3,58,F,DE,2021-01-01,2023-12-01,paused,1,20,3,1,Toys,5,200,Robot
4,,F,DE,2021-01-01,2024-06-20,active,0,1,1,1,Garden,5,,
`

func salesDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	table, err := dataset.ReadCSV(context.Background(), strings.NewReader(salesCSV), "utf-8")
	require.NoError(t, err)
	ds, err := dataset.Build(table, dataset.DefaultColumnSpec(), config.Default().Dataset)
	require.NoError(t, err)
	return ds
}

func TestAssembleSalesReport(t *testing.T) {
	ds := salesDataset(t)
	history := forecast.AggregateMonthly(RevenueObservations(ds), forecast.AggregateSum)
	require.Len(t, history, 7)
	series, err := forecast.NewForecaster(config.Default().Forecast.Revenue, forecast.ClampNonNegative).Forecast(history)
	require.NoError(t, err)

	r := AssembleSalesReport(ds, series, SalesOptions{TopCategories: 10, TopProducts: 10})

	require.Len(t, r.SalesByCategory, 3)
	assert.Equal(t, CategorySales{Category: "Toys", Revenue: 110, Percentage: 80.88}, r.SalesByCategory[0])
	assert.Equal(t, CategorySales{Category: "Books", Revenue: 25, Percentage: 18.38}, r.SalesByCategory[1])

	require.Len(t, r.RevenueTrends, 19)
	assert.Equal(t, "2023-12", r.RevenueTrends[0].Month)
	assert.Equal(t, 60.0, r.RevenueTrends[0].Revenue)
	assert.False(t, r.RevenueTrends[6].IsPredicted)
	assert.True(t, r.RevenueTrends[7].IsPredicted)
	assert.Equal(t, "2024-07", r.RevenueTrends[7].Month)

	require.Len(t, r.AgeDistribution, 5)
	assert.Equal(t, AgeBucket{AgeGroup: "18-25", Count: 2, Percentage: 40}, r.AgeDistribution[0])
	assert.Equal(t, AgeBucket{AgeGroup: "36-45", Count: 0, Percentage: 0}, r.AgeDistribution[2])
	assert.Equal(t, AgeBucket{AgeGroup: "46-60", Count: 1, Percentage: 20}, r.AgeDistribution[3])

	segTotal := 0
	for _, s := range r.CustomerSegments {
		segTotal += s.Count
	}
	assert.Equal(t, 4, segTotal)

	require.Len(t, r.TopProducts, 4)
	assert.Equal(t, ProductRevenue{ProductID: "200", ProductName: "Robot", Country: "UK", Revenue: 50}, r.TopProducts[1])
	assert.Equal(t, "DE", r.TopProducts[0].Country)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"forecasts":[]`)
	assert.Contains(t, string(raw), `"product_id":200`)
}

func TestSalesReportWithoutProducts(t *testing.T) {
	ds := &dataset.Dataset{Columns: dataset.ColumnIndex{}, Anchor: time.Now()}
	r := AssembleSalesReport(ds, nil, SalesOptions{TopCategories: 10, TopProducts: 10})
	assert.Empty(t, r.TopProducts)
	assert.NotNil(t, r.TopProducts)
	assert.Len(t, r.AgeDistribution, 5)
	assert.NotNil(t, r.CustomerSegments)
}

func TestCategoryRatesSkipBlankCountry(t *testing.T) {
	customers := []ScoredCustomer{
		{ID: "1", Country: "US", Category: "Books", Probability: 40},
		{ID: "2", Country: "", Category: "Books", Probability: 90},
		{ID: "3", Country: "", Category: "Toys", Probability: 10},
	}
	assert.Equal(t, []CountryRate{{"US", 40}}, countryRates(customers))

	categories := categoryRates(customers)
	require.Len(t, categories, 1, "只有空国家的类别不输出")
	assert.Equal(t, "Books", categories[0].Name)
	assert.Equal(t, []CountryRate{{"US", 40}}, categories[0].CountryData)
}

func TestLessIDFollowsIntegerLiterals(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"9", "10", true},
		{"10", "9", false},
		{"-2", "1", true},
		// 非整数字面量按字符串比较，与 Identifier 序列化规则一致
		{"1e3", "2", true},
		{"NaN", "Inf", false},
		{"Inf", "NaN", true},
		{"007", "10", true},
		{"C-7", "C-10", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lessID(tt.a, tt.b), "%s < %s", tt.a, tt.b)
	}
}
