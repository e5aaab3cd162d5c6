package labeling

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"insight-service/service/config"
	"insight-service/service/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anchor = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func customer(id string, daysAgo int, status string, label string) dataset.Customer {
	return dataset.Customer{
		ID:                 id,
		SubscriptionStatus: status,
		LastPurchaseDate:   dataset.Date{Time: anchor.AddDate(0, 0, -daysAgo), Valid: true},
		ChurnLabel:         label,
	}
}

func TestThresholdRule(t *testing.T) {
	rule := NewThresholdRule(180, []string{"cancelled", "paused"})
	cases := []struct {
		in   Input
		want int
	}{
		{Input{InactiveDays: 181, Status: "active"}, 1},
		{Input{InactiveDays: 180, Status: "active"}, 0},
		{Input{InactiveDays: 10, Status: "Cancelled "}, 1},
		{Input{InactiveDays: 10, Status: "paused"}, 1},
		{Input{InactiveDays: 10, Status: "active"}, 0},
	}
	for _, tc := range cases {
		got, err := rule.Label(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%+v", tc.in)

		again, _ := rule.Label(tc.in)
		assert.Equal(t, got, again)
	}
}

func TestScriptRule(t *testing.T) {
	rule, err := CompileScriptRule(`return inactiveDays > 90 || strings.EqualFold(status, "frozen")`)
	require.NoError(t, err)

	got, err := rule.Label(Input{InactiveDays: 91})
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = rule.Label(Input{InactiveDays: 5, Status: "FROZEN"})
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = rule.Label(Input{InactiveDays: 5, Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	_, err = CompileScriptRule(`return inactiveDays >`)
	assert.Error(t, err)
}

func TestNewDeriverLoadsScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.go.txt")
	require.NoError(t, os.WriteFile(path, []byte("return inactiveDays > 30"), 0o644))

	cfg := config.Default().Labeling
	cfg.RuleScriptPath = path
	d, err := NewDeriver(cfg)
	require.NoError(t, err)
	assert.Equal(t, "script", d.RuleName())
}

func TestDeriveFromRule(t *testing.T) {
	var customers []dataset.Customer
	for i := 0; i < 100; i++ {
		days := 30
		if i%10 < 3 {
			days = 200 + i
		}
		customers = append(customers, customer(strconv.Itoa(i), days, "active", ""))
	}

	d, err := NewDeriver(config.Default().Labeling)
	require.NoError(t, err)
	ls, err := d.Derive(customers, anchor, false)
	require.NoError(t, err)
	assert.Equal(t, SourceDerived, ls.Source)
	assert.Equal(t, 30, ls.Positives)
	assert.InDelta(t, 0.3, ls.PositiveRate(), 1e-9)
}

func TestDeriveSuppliedWithBlankFallback(t *testing.T) {
	customers := []dataset.Customer{
		customer("1", 10, "active", "Yes"),
		customer("2", 10, "active", "no"),
		customer("3", 400, "active", ""),
		customer("4", 10, "paused", "No"),
	}
	d, err := NewDeriver(config.Default().Labeling)
	require.NoError(t, err)
	ls, err := d.Derive(customers, anchor, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1, 0}, ls.Labels)
	assert.Equal(t, SourceMixed, ls.Source)
	require.NotNil(t, ls.Encoder)
	assert.Equal(t, []string{"no", "yes"}, ls.Encoder.Classes)
}

func TestCoerceSuppliedLabels(t *testing.T) {
	labels, present, _, err := CoerceSuppliedLabels([]string{"1.0", "0", " 1", ""})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1, 0}, labels)
	assert.Equal(t, []bool{true, true, true, false}, present)

	labels, _, state, err := CoerceSuppliedLabels([]string{"stayed", "left", "left"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 0}, labels)
	assert.Equal(t, []string{"left", "stayed"}, state.Classes)

	_, _, _, err = CoerceSuppliedLabels([]string{"a", "b", "c"})
	assert.True(t, errors.Is(err, ErrNonBinaryLabels))
}

func TestInactiveDaysImputesMissing(t *testing.T) {
	customers := []dataset.Customer{
		customer("1", 10, "", ""),
		{ID: "2"},
		customer("2", 30, "", ""),
	}
	assert.Equal(t, []float64{10, 20, 30}, InactiveDays(customers, anchor))
}
