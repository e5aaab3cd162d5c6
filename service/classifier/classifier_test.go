package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelsWithPositives(n, positives int) []int {
	y := make([]int, n)
	for i := 0; i < positives; i++ {
		y[i*n/positives] = 1
	}
	return y
}

func TestStratifiedSplitPreservesProportions(t *testing.T) {
	y := labelsWithPositives(100, 30)
	train, test, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 20)
	assert.Len(t, train, 80)

	pos := 0
	for _, i := range test {
		pos += y[i]
	}
	assert.Equal(t, 6, pos)

	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), test...) {
		assert.False(t, seen[i])
		seen[i] = true
	}
	assert.Len(t, seen, 100)

	train2, test2, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
}

func TestStratifiedSplitFailures(t *testing.T) {
	_, _, err := StratifiedSplit(make([]int, 50), 0.2, 42)
	assert.True(t, errors.Is(err, ErrDegenerateLabels))
	assert.False(t, errors.Is(err, ErrCannotStratify))

	_, _, err = StratifiedSplit(labelsWithPositives(50, 1), 0.2, 42)
	assert.True(t, errors.Is(err, ErrCannotStratify))

	_, _, err = StratifiedSplit([]int{0, 0, 1, 1}, 0.2, 42)
	assert.True(t, errors.Is(err, ErrCannotStratify))

	_, _, err = StratifiedSplit([]int{0, 2}, 0.2, 42)
	assert.Error(t, err)
}

func TestClassWeights(t *testing.T) {
	w := ClassWeights([]int{0, 0, 0, 1}, true)
	assert.InDelta(t, 4.0/6.0, w[0], 1e-12)
	assert.InDelta(t, 2.0, w[1], 1e-12)
	assert.Equal(t, [2]float64{1, 1}, ClassWeights([]int{0, 1}, false))
}

func separableData(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		a, b := rng.Float64(), rng.Float64()
		x[i] = []float64{a, b}
		if a > 0.6 {
			y[i] = 1
		}
	}
	return x, y
}

func TestForestLearnsThreshold(t *testing.T) {
	x, y := separableData(300, 1)
	f := NewRandomForest(ForestParams{Trees: 25, Seed: 42, ClassBalanced: true, Workers: 4})
	require.NoError(t, f.Fit(context.Background(), x, y))

	high, err := f.PredictProba([]float64{0.95, 0.5})
	require.NoError(t, err)
	low, err := f.PredictProba([]float64{0.05, 0.5})
	require.NoError(t, err)
	assert.Greater(t, high, 0.8)
	assert.Less(t, low, 0.2)

	_, err = f.PredictProba([]float64{1})
	assert.Error(t, err)
}

func TestForestDeterministicAcrossWorkers(t *testing.T) {
	x, y := separableData(120, 7)
	a := NewRandomForest(ForestParams{Trees: 10, Seed: 42, Workers: 1})
	b := NewRandomForest(ForestParams{Trees: 10, Seed: 42, Workers: 8})
	require.NoError(t, a.Fit(context.Background(), x, y))
	require.NoError(t, b.Fit(context.Background(), x, y))
	assert.Equal(t, a.Trees, b.Trees)
}

func TestForestRespectsMaxDepth(t *testing.T) {
	x, y := separableData(200, 5)
	f := NewRandomForest(ForestParams{Trees: 8, MaxDepth: 2, Seed: 42})
	require.NoError(t, f.Fit(context.Background(), x, y))
	for i := range f.Trees {
		assert.LessOrEqual(t, f.Trees[i].depth(), 2)
	}
}

func TestForestFitCancelled(t *testing.T) {
	x, y := separableData(50, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRandomForest(ForestParams{Trees: 5, Seed: 1}).Fit(ctx, x, y)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestROCAUC(t *testing.T) {
	assert.InDelta(t, 0.75, ROCAUC([]float64{0.1, 0.4, 0.35, 0.8}, []int{0, 0, 1, 1}), 1e-12)
	assert.InDelta(t, 1.0, ROCAUC([]float64{0.9, 0.1, 0.8, 0.2}, []int{1, 0, 1, 0}), 1e-12)
	assert.True(t, math.IsNaN(ROCAUC([]float64{0.2, 0.3}, []int{1, 1})))

	m := Evaluate([]float64{0.2, 0.3}, []int{1, 1})
	assert.Nil(t, m.ROCAUC)
	assert.Equal(t, 0.0, m.Accuracy)
}

// 100 个客户，30% 长期不活跃；不活跃天数与标签强相关
func churnScenario() ([][]float64, []int) {
	rng := rand.New(rand.NewSource(99))
	x := make([][]float64, 100)
	y := make([]int, 100)
	for i := range x {
		inactive := 10 + rng.Float64()*150
		if i%10 < 3 {
			inactive = 200 + rng.Float64()*300
			y[i] = 1
		}
		x[i] = []float64{inactive, 20 + rng.Float64()*50, float64(rng.Intn(3))}
	}
	return x, y
}

func TestTrainScoresWholePopulation(t *testing.T) {
	x, y := churnScenario()
	opts := Options{TestFraction: 0.2, Forest: ForestParams{Trees: 30, Seed: 42, ClassBalanced: true, MinSamplesSplit: 2}}
	m, err := Train(context.Background(), x, y, 2, opts)
	require.NoError(t, err)
	assert.Equal(t, 80, m.Metrics.TrainSize)
	assert.Equal(t, 20, m.Metrics.TestSize)
	assert.Equal(t, 30, m.Metrics.Positives)
	require.NotNil(t, m.Metrics.ROCAUC)

	probs, err := m.PredictAll(x)
	require.NoError(t, err)
	require.Len(t, probs, 100)

	var sum [2]float64
	var count [2]int
	for i, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
		sum[y[i]] += p
		count[y[i]]++
	}
	assert.Greater(t, sum[1]/float64(count[1]), sum[0]/float64(count[0]))
}

func TestModelStateRoundTrip(t *testing.T) {
	x, y := churnScenario()
	opts := Options{TestFraction: 0.2, Forest: ForestParams{Trees: 5, Seed: 42, ClassBalanced: true}}
	m, err := Train(context.Background(), x, y, 2, opts)
	require.NoError(t, err)

	raw, err := json.Marshal(m.State())
	require.NoError(t, err)
	var state ModelState
	require.NoError(t, json.Unmarshal(raw, &state))
	restored, err := NewModelFromState(state)
	require.NoError(t, err)

	want, err := m.PredictAll(x)
	require.NoError(t, err)
	got, err := restored.PredictAll(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	p, err := restored.PredictProbability(x[0])
	require.NoError(t, err)
	assert.Equal(t, want[0], p)

	_, err = NewModelFromState(ModelState{})
	assert.Error(t, err)
}

func TestTrainDegenerate(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}, {5}}
	_, err := Train(context.Background(), x, []int{1, 1, 1, 1, 1}, 1, Options{TestFraction: 0.2, Forest: ForestParams{Trees: 3}})
	assert.True(t, errors.Is(err, ErrDegenerateLabels))
}
