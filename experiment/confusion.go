package experiment

import (
	"fmt"

	"github.com/c360studio/concepteng/benchmark"
)

// LabelUnknown is the prediction recorded when the model abstains.
const LabelUnknown = "unknown"

// ConfusionMatrix counts predictions per ground-truth label. Rows are the
// actual labels (positive, negative); columns are the predicted labels
// (positive, negative, unknown). Unknown predictions are abstentions.
type ConfusionMatrix struct {
	Counts map[string]map[string]int `json:"counts" yaml:"counts"`
	Total  int                       `json:"total" yaml:"total"`
}

// Metrics are the scores derived from a confusion matrix, treating
// positive as the positive class.
type Metrics struct {
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
	Coverage  float64 `json:"coverage" yaml:"coverage"`
}

func emptyMatrix() ConfusionMatrix {
	counts := make(map[string]map[string]int, 2)
	for _, actual := range []string{benchmark.LabelPositive, benchmark.LabelNegative} {
		counts[actual] = map[string]int{
			benchmark.LabelPositive: 0,
			benchmark.LabelNegative: 0,
			LabelUnknown:            0,
		}
	}
	return ConfusionMatrix{Counts: counts}
}

// NewConfusionMatrix tallies paired actual and predicted labels.
func NewConfusionMatrix(actual, predicted []string) (ConfusionMatrix, error) {
	if len(actual) != len(predicted) {
		return ConfusionMatrix{}, fmt.Errorf("confusion matrix: %d actual labels but %d predictions", len(actual), len(predicted))
	}
	m := emptyMatrix()
	for i := range actual {
		row, ok := m.Counts[actual[i]]
		if !ok {
			return ConfusionMatrix{}, fmt.Errorf("confusion matrix: unknown actual label %q", actual[i])
		}
		if _, ok := row[predicted[i]]; !ok {
			return ConfusionMatrix{}, fmt.Errorf("confusion matrix: unknown predicted label %q", predicted[i])
		}
		row[predicted[i]]++
		m.Total++
	}
	return m, nil
}

// Count returns the number of items with the given actual and predicted labels.
func (m ConfusionMatrix) Count(actual, predicted string) int {
	return m.Counts[actual][predicted]
}

// Abstentions returns the number of unknown predictions.
func (m ConfusionMatrix) Abstentions() int {
	return m.Count(benchmark.LabelPositive, LabelUnknown) + m.Count(benchmark.LabelNegative, LabelUnknown)
}

// Metrics derives accuracy, precision, recall and F1. Accuracy is over all
// items, so abstentions count against it; coverage is the share of items
// that received a definite prediction. Undefined ratios are zero.
func (m ConfusionMatrix) Metrics() Metrics {
	tp := m.Count(benchmark.LabelPositive, benchmark.LabelPositive)
	fn := m.Count(benchmark.LabelPositive, benchmark.LabelNegative)
	fp := m.Count(benchmark.LabelNegative, benchmark.LabelPositive)
	tn := m.Count(benchmark.LabelNegative, benchmark.LabelNegative)

	var out Metrics
	out.Accuracy = ratio(tp+tn, m.Total)
	out.Precision = ratio(tp, tp+fp)
	out.Recall = ratio(tp, tp+fn)
	if out.Precision+out.Recall > 0 {
		out.F1 = 2 * out.Precision * out.Recall / (out.Precision + out.Recall)
	}
	out.Coverage = ratio(m.Total-m.Abstentions(), m.Total)
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
