package classifier

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metrics 留出集上的诊断指标，不影响模型是否被使用
type Metrics struct {
	Accuracy  float64  `json:"accuracy"`
	ROCAUC    *float64 `json:"roc_auc,omitempty"`
	TrainSize int      `json:"train_size"`
	TestSize  int      `json:"test_size"`
	Positives int      `json:"positives"`
}

// Accuracy 概率大于 0.5 判为正类时的准确率
func Accuracy(probs []float64, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, p := range probs {
		pred := 0
		if p > 0.5 {
			pred = 1
		}
		if pred == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// ROCAUC ROC 曲线下面积；只有一个类别时返回 NaN
func ROCAUC(probs []float64, labels []int) float64 {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(probs))
	hasPos, hasNeg := false, false
	for i, p := range probs {
		pairs[i] = pair{score: p, pos: labels[i] == 1}
		if pairs[i].pos {
			hasPos = true
		} else {
			hasNeg = true
		}
	}
	if !hasPos || !hasNeg {
		return math.NaN()
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].score < pairs[b].score })

	scores := make([]float64, len(pairs))
	classes := make([]bool, len(pairs))
	for i, p := range pairs {
		scores[i] = p.score
		classes[i] = p.pos
	}
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// Evaluate 计算留出集指标
func Evaluate(probs []float64, labels []int) Metrics {
	m := Metrics{Accuracy: Accuracy(probs, labels), TestSize: len(labels)}
	if auc := ROCAUC(probs, labels); !math.IsNaN(auc) {
		m.ROCAUC = &auc
	}
	return m
}
