package segmentation

import (
	"errors"
	"math/rand"
	"testing"

	"insight-service/service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobs(perBlob int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	centers := [][]float64{{0, 0}, {10, 10}, {20, 0}}
	var x [][]float64
	for _, c := range centers {
		for i := 0; i < perBlob; i++ {
			x = append(x, []float64{c[0] + rng.NormFloat64()*0.5, c[1] + rng.NormFloat64()*0.5})
		}
	}
	return x
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	x := blobs(20, 1)
	km := KMeans{K: 3, Inits: 10, MaxIterations: 300, Tolerance: 1e-4, Seed: 42}
	c, err := km.Fit(x)
	require.NoError(t, err)

	for b := 0; b < 3; b++ {
		first := c.Labels[b*20]
		for i := b * 20; i < (b+1)*20; i++ {
			assert.Equal(t, first, c.Labels[i])
		}
	}
	assert.Less(t, c.Inertia, 60.0*2)

	again, err := km.Fit(x)
	require.NoError(t, err)
	assert.Equal(t, c.Labels, again.Labels)

	_, err = KMeans{K: 100}.Fit(x)
	assert.Error(t, err)
}

func TestSilhouette(t *testing.T) {
	x := [][]float64{{0}, {0.1}, {10}, {10.1}}
	s, err := Silhouette(x, []int{0, 0, 1, 1}, 0, 42)
	require.NoError(t, err)
	assert.Greater(t, s, 0.98)

	bad, err := Silhouette(x, []int{0, 1, 1, 0}, 0, 42)
	require.NoError(t, err)
	assert.Less(t, bad, 0.0)

	_, err = Silhouette(x, []int{0, 0, 0, 0}, 0, 42)
	assert.True(t, errors.Is(err, ErrSilhouetteUndefined))

	sampled, err := Silhouette(blobs(50, 2), labelsForBlobs(50), 60, 42)
	require.NoError(t, err)
	assert.Greater(t, sampled, 0.8)
}

func labelsForBlobs(perBlob int) []int {
	labels := make([]int, 3*perBlob)
	for i := range labels {
		labels[i] = i / perBlob
	}
	return labels
}

func TestSelectClusterCountPicksThree(t *testing.T) {
	x := blobs(20, 3)
	sel := SelectClusterCount(x, []int{5, 2, 4, 3}, KMeans{Inits: 10, MaxIterations: 300, Tolerance: 1e-4, Seed: 42}, 0)
	assert.Equal(t, 3, sel.K)
	assert.False(t, sel.Fallback)
	require.Len(t, sel.Candidates, 4)
	assert.Equal(t, 2, sel.Candidates[0].K)
}

func TestSelectClusterCountSkipsLargeCandidates(t *testing.T) {
	sel := SelectClusterCount([][]float64{{0, 0}, {5, 5}}, []int{2, 3, 4, 5}, KMeans{Inits: 2, Seed: 42}, 0)
	assert.Equal(t, 1, sel.K)
	assert.True(t, sel.Fallback)
	for _, c := range sel.Candidates {
		assert.True(t, c.Skipped)
	}
	assert.Equal(t, []int{0, 0}, sel.Clustering().Labels)

	three := SelectClusterCount([][]float64{{0}, {1}, {9}}, []int{2, 3, 4, 5}, KMeans{Inits: 2, Seed: 42}, 0)
	assert.Equal(t, 2, three.K)
}

func TestSelectClusterCountTiesPreferSmaller(t *testing.T) {
	x := make([][]float64, 10)
	for i := range x {
		x[i] = []float64{1, 1}
	}
	sel := SelectClusterCount(x, []int{2, 3, 4, 5}, KMeans{Inits: 3, Seed: 42}, 0)
	assert.Equal(t, 2, sel.K)
	for _, c := range sel.Candidates {
		assert.Equal(t, sel.Candidates[0].Score, c.Score)
	}
}

func TestNameCluster(t *testing.T) {
	pop := map[string]float64{"amount": 100, "purchase_frequency": 5, "recency_days": 60}
	cases := []struct {
		cluster map[string]float64
		want    string
	}{
		{map[string]float64{"amount": 150, "purchase_frequency": 8, "recency_days": 90}, HighValueFrequent},
		{map[string]float64{"amount": 150, "purchase_frequency": 5, "recency_days": 90}, HighValueOccasional},
		{map[string]float64{"amount": 100, "purchase_frequency": 6, "recency_days": 90}, FrequentLowValue},
		{map[string]float64{"amount": 50, "purchase_frequency": 2, "recency_days": 200}, AtRisk},
		{map[string]float64{"amount": 50, "purchase_frequency": 2, "recency_days": 10}, Regular},
		{map[string]float64{}, Regular},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NameCluster(tc.cluster, pop))
	}
}

func TestSegmentAssignsEveryCustomer(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	names := []string{"age", "tenure_days", "inactive_days", "purchase_frequency", "amount"}
	x := make([][]float64, 80)
	for i := range x {
		x[i] = []float64{20 + rng.Float64()*50, rng.Float64() * 900, rng.Float64() * 400, 1 + rng.Float64()*10, rng.Float64() * 2000}
		if i%4 == 0 {
			x[i][3] += 20
			x[i][4] += 5000
		}
	}

	res, err := NewSegmenter(config.Default().Segmentation).Segment(x, names)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 80)

	total := 0
	for name, n := range res.Counts() {
		assert.Contains(t, SegmentNames, name)
		total += n
	}
	assert.Equal(t, 80, total)
	assert.Contains(t, res.Population, "recency_days")
	assert.Contains(t, res.Counts(), HighValueFrequent)

	_, err = NewSegmenter(config.Default().Segmentation).Segment(x, names[:2])
	assert.Error(t, err)
}
