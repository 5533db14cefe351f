package experiment_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360studio/concepteng/benchmark"
	"github.com/c360studio/concepteng/chain"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/experiment"
	"github.com/c360studio/concepteng/llm/testutil"
	"github.com/c360studio/concepteng/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixture(positives, negatives int) *benchmark.Benchmark {
	b := &benchmark.Benchmark{
		TargetConceptID: "planet",
		Limit:           positives + negatives,
		CreatedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Positive:        benchmark.Section{Query: "POS"},
		Negative:        benchmark.Section{Query: "NEG"},
	}
	for i := 0; i < positives; i++ {
		b.Positive.Records = append(b.Positive.Records, benchmark.Record{
			ID: fmt.Sprintf("P%d", i), Name: fmt.Sprintf("pos-%d", i),
			Description: fmt.Sprintf("positive %d", i), Label: benchmark.LabelPositive,
		})
	}
	for i := 0; i < negatives; i++ {
		b.Negative.Records = append(b.Negative.Records, benchmark.Record{
			ID: fmt.Sprintf("N%d", i), Name: fmt.Sprintf("neg-%d", i),
			Description: fmt.Sprintf("negative %d", i), Label: benchmark.LabelNegative,
		})
	}
	return b
}

func planet() concept.Concept {
	return concept.New("planet", "planet", "a celestial body that orbits the sun and has cleared its orbit")
}

func countLabels(records []benchmark.Record) (pos, neg int) {
	for _, r := range records {
		if r.Label == benchmark.LabelPositive {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

func TestSampleExhaustsSmallPool(t *testing.T) {
	exp := experiment.New(planet(), fixture(3, 100))
	sample := exp.Sample(40, rand.New(rand.NewPCG(1, 2)))

	pos, neg := countLabels(sample)
	assert.Equal(t, 3, pos)
	assert.Equal(t, 37, neg)

	seen := make(map[string]bool)
	for _, r := range sample {
		assert.False(t, seen[r.ID], "record %s drawn twice", r.ID)
		seen[r.ID] = true
	}
}

func TestSampleSplits(t *testing.T) {
	tests := []struct {
		name                 string
		positives, negatives int
		n                    int
		wantPos, wantNeg     int
	}{
		{"even", 50, 50, 20, 10, 10},
		{"odd size favours negatives", 50, 50, 5, 2, 3},
		{"both pools short", 2, 3, 40, 2, 3},
		{"zero", 10, 10, 0, 0, 0},
		{"negative", 10, 10, -1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := experiment.New(planet(), fixture(tt.positives, tt.negatives))
			pos, neg := countLabels(exp.Sample(tt.n, rand.New(rand.NewPCG(7, 7))))
			assert.Equal(t, tt.wantPos, pos)
			assert.Equal(t, tt.wantNeg, neg)
		})
	}
}

func TestSampleIsReproducibleWithSeed(t *testing.T) {
	b := fixture(30, 30)
	first := experiment.New(planet(), b).Sample(10, rand.New(rand.NewPCG(42, 0)))
	second := experiment.New(planet(), b).Sample(10, rand.New(rand.NewPCG(42, 0)))
	assert.Equal(t, first, second)
}

// stubClassifier answers by entity name: names starting with "pos" are
// true, names ending in "7" are unknown, everything else is false.
type stubClassifier struct {
	mu           sync.Mutex
	descriptions []string
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
	fail         string
}

func (s *stubClassifier) Classify(ctx context.Context, _ concept.Concept, e concept.Entity) (concept.Classification, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	s.descriptions = append(s.descriptions, e.Description)
	s.mu.Unlock()

	if e.Label == s.fail {
		return concept.Classification{}, errors.New("model overloaded")
	}
	if err := ctx.Err(); err != nil {
		return concept.Classification{}, err
	}
	time.Sleep(time.Millisecond)

	v := concept.VerdictFalse
	switch {
	case strings.HasSuffix(e.Label, "7"):
		v = concept.VerdictUnknown
	case strings.HasPrefix(e.Label, "pos"):
		v = concept.VerdictTrue
	}
	return concept.Classification{Entity: e, Verdict: v, Rationale: "because " + e.Label}, nil
}

func TestRunKeepsSampleOrder(t *testing.T) {
	exp := experiment.New(planet(), fixture(10, 10))
	sample := exp.Sample(20, rand.New(rand.NewPCG(3, 3)))

	clf := &stubClassifier{}
	require.NoError(t, exp.Run(context.Background(), clf, experiment.WithParallelism(4)))

	require.Len(t, exp.Results, len(sample))
	for i, r := range exp.Results {
		assert.Equal(t, sample[i].ID, r.ID)
		assert.Equal(t, sample[i].Label, r.Actual)
		assert.Equal(t, sample[i].Description, r.Description)
		assert.Equal(t, "because "+sample[i].Name, r.Rationale)
		switch {
		case strings.HasSuffix(r.Name, "7"):
			assert.Equal(t, experiment.LabelUnknown, r.Predicted)
		case strings.HasPrefix(r.Name, "pos"):
			assert.Equal(t, benchmark.LabelPositive, r.Predicted)
		default:
			assert.Equal(t, benchmark.LabelNegative, r.Predicted)
		}
	}
	assert.LessOrEqual(t, clf.maxInFlight.Load(), int32(4))
}

func TestRunWithoutDescriptions(t *testing.T) {
	exp := experiment.New(planet(), fixture(2, 2))
	exp.Sample(4, rand.New(rand.NewPCG(1, 1)))

	clf := &stubClassifier{}
	require.NoError(t, exp.Run(context.Background(), clf, experiment.WithDescriptions(false)))
	assert.Equal(t, []string{"", "", "", ""}, clf.descriptions)
	assert.Equal(t, "positive", exp.Results[0].Description[:8], "stored description is still reported")
}

func TestRunFailureLeavesPreviousResults(t *testing.T) {
	exp := experiment.New(planet(), fixture(5, 5))
	exp.Sample(10, rand.New(rand.NewPCG(1, 1)))

	require.NoError(t, exp.Run(context.Background(), &stubClassifier{}))
	previous := exp.Results

	err := exp.Run(context.Background(), &stubClassifier{fail: "neg-2"}, experiment.WithParallelism(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neg-2")
	assert.Equal(t, previous, exp.Results)
}

func TestRunRequiresSample(t *testing.T) {
	exp := experiment.New(planet(), fixture(1, 1))
	assert.ErrorIs(t, exp.Run(context.Background(), &stubClassifier{}), experiment.ErrNoSample)
}

func TestConfusionMatrixScenario(t *testing.T) {
	actual := []string{"positive", "positive", "negative", "negative"}
	predicted := []string{"positive", "negative", "negative", "negative"}

	cm, err := experiment.NewConfusionMatrix(actual, predicted)
	require.NoError(t, err)

	assert.Equal(t, 1, cm.Count("positive", "positive"))
	assert.Equal(t, 1, cm.Count("positive", "negative"))
	assert.Equal(t, 0, cm.Count("negative", "positive"))
	assert.Equal(t, 2, cm.Count("negative", "negative"))
	assert.Equal(t, 4, cm.Total)
	assert.Zero(t, cm.Abstentions())

	m := cm.Metrics()
	assert.InDelta(t, 0.75, m.Accuracy, 1e-9)
	assert.InDelta(t, 1.0, m.Precision, 1e-9)
	assert.InDelta(t, 0.5, m.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.F1, 1e-9)
	assert.InDelta(t, 1.0, m.Coverage, 1e-9)
}

func TestConfusionMatrixAbstentionsAndErrors(t *testing.T) {
	cm, err := experiment.NewConfusionMatrix(
		[]string{"positive", "negative", "negative"},
		[]string{"unknown", "unknown", "negative"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, cm.Abstentions())
	m := cm.Metrics()
	assert.InDelta(t, 1.0/3.0, m.Accuracy, 1e-9)
	assert.InDelta(t, 1.0/3.0, m.Coverage, 1e-9)
	assert.Zero(t, m.Precision)
	assert.Zero(t, m.F1)

	_, err = experiment.NewConfusionMatrix([]string{"positive"}, nil)
	assert.Error(t, err)
	_, err = experiment.NewConfusionMatrix([]string{"maybe"}, []string{"positive"})
	assert.Error(t, err)
	_, err = experiment.NewConfusionMatrix([]string{"positive"}, []string{"maybe"})
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	exp := experiment.New(planet(), fixture(4, 4))
	exp.Sample(8, rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, exp.Run(ctx, &stubClassifier{}))

	key, err := exp.Save(ctx, store)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "experiments/gpt-4/planet/"), key)

	second, err := exp.Save(ctx, store)
	require.NoError(t, err)
	assert.NotEqual(t, key, second, "every save gets its own key")

	keys, err := experiment.List(ctx, store, "gpt-4", "planet")
	require.NoError(t, err)
	assert.Equal(t, []string{key, second}, keys)

	doc, err := experiment.Load(ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, exp.Concept, doc.Concept)
	assert.Equal(t, "planet", doc.BenchmarkConcept)
	assert.Equal(t, 8, doc.SampleSize)
	if diff := cmp.Diff(exp.Results, doc.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	want, err := exp.ConfusionMatrix()
	require.NoError(t, err)
	assert.Equal(t, want, doc.ConfusionMatrix)
}

func TestSaveRequiresResults(t *testing.T) {
	exp := experiment.New(planet(), fixture(1, 1))
	_, err := exp.Save(context.Background(), storage.NewMemory())
	assert.Error(t, err)
}

func TestKeyFormat(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	assert.Equal(t, "experiments/meta-llama-Llama-2-70b-chat-hf/planet/20240506T070809.000000010Z",
		experiment.Key("meta-llama/Llama-2-70b-chat-hf", "planet", at))
}

func TestRunWithDialecticEngine(t *testing.T) {
	lib, err := chain.DefaultLibrary()
	require.NoError(t, err)
	engine := dialectic.NewEngine(lib, testutil.DeterministicGenerator{})

	exp := experiment.New(planet(), fixture(3, 3))
	exp.Sample(6, rand.New(rand.NewPCG(5, 5)))
	require.NoError(t, exp.Run(context.Background(), engine, experiment.WithParallelism(3)))

	cm, err := exp.ConfusionMatrix()
	require.NoError(t, err)
	assert.Equal(t, 6, cm.Total)
	for _, r := range exp.Results {
		assert.Contains(t, []string{"positive", "negative", "unknown"}, r.Predicted)
		assert.NotEmpty(t, r.Rationale)
	}
}
