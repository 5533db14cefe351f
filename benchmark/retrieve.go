package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/metrics"
	"github.com/c360studio/concepteng/wikidata"
	"github.com/c360studio/concepteng/wikipedia"
)

// DisambiguationDescription replaces the description of an entity whose
// article title is ambiguous.
const DisambiguationDescription = "Disambiguation error: the article title refers to more than one page."

// ErrQueryFailure is matched by every QueryError.
var ErrQueryFailure = errors.New("benchmark query failed")

// QueryError reports the query that aborted a retrieval.
type QueryError struct {
	Label string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query: %v", e.Label, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrQueryFailure, e.Err}
}

// EntityQuerier runs a structured query returning one binding map per row.
type EntityQuerier interface {
	Query(ctx context.Context, query string, limit int) ([]wikidata.Row, error)
}

// SummaryLookup returns a description for a page title. Ambiguous titles
// are reported with an error wrapping wikipedia.ErrAmbiguous.
type SummaryLookup interface {
	Describe(ctx context.Context, title string) (string, error)
}

// Bindings names the query variables a retriever reads.
type Bindings struct {
	Item        string
	Label       string
	Article     string
	Description string
}

// DefaultBindings match the conventional Wikidata query shape
// SELECT ?item ?itemLabel ?article.
var DefaultBindings = Bindings{
	Item:        "item",
	Label:       "itemLabel",
	Article:     "article",
	Description: "itemDescription",
}

// Retriever builds benchmarks from a querier and a summary lookup.
type Retriever struct {
	Querier   EntityQuerier
	Summaries SummaryLookup
	Bindings  Bindings
	Logger    *slog.Logger
}

// NewRetriever returns a retriever using the default bindings.
func NewRetriever(q EntityQuerier, s SummaryLookup, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{Querier: q, Summaries: s, Bindings: DefaultBindings, Logger: logger}
}

// Retrieve runs the positive query bounded by limit/2 and the negative
// query bounded by the remainder, then describes every record. A failing
// query aborts the retrieval; ambiguous article titles do not.
func (r *Retriever) Retrieve(ctx context.Context, conceptID, positiveQuery, negativeQuery string, limit int) (*Benchmark, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	done := metrics.TimeOp("benchmark_retrieve")

	posLimit := limit / 2
	negLimit := limit - posLimit

	positive, err := r.section(ctx, LabelPositive, positiveQuery, posLimit)
	if err != nil {
		done(false)
		return nil, err
	}
	negative, err := r.section(ctx, LabelNegative, negativeQuery, negLimit)
	if err != nil {
		done(false)
		return nil, err
	}

	done(true)
	b := &Benchmark{
		TargetConceptID: conceptID,
		Limit:           limit,
		CreatedAt:       time.Now().UTC(),
		Positive:        positive,
		Negative:        negative,
	}
	r.logger().Info("Benchmark retrieved",
		"concept", conceptID,
		"positives", len(positive.Records),
		"negatives", len(negative.Records))
	return b, nil
}

func (r *Retriever) section(ctx context.Context, label, query string, limit int) (Section, error) {
	sec := Section{Query: query, Records: []Record{}}
	if limit == 0 {
		return sec, nil
	}

	rows, err := r.Querier.Query(ctx, query, limit)
	if err != nil {
		return Section{}, &QueryError{Label: label, Err: err}
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	b := r.bindings()
	for _, row := range rows {
		rec := Record{
			ID:      wikidata.EntityID(row[b.Item]),
			Name:    row[b.Label],
			Article: row[b.Article],
			Label:   label,
		}
		desc, title, err := r.describe(ctx, rec.Article)
		if err != nil {
			return Section{}, fmt.Errorf("describe %s: %w", rec.ID, err)
		}
		if desc == "" {
			desc = row[b.Description]
		}
		if rec.Name == "" {
			rec.Name = title
		}
		rec.Description = concept.Entity{Description: desc}.DescriptionOrDefault()
		sec.Records = append(sec.Records, rec)
	}
	return sec, nil
}

// describe resolves an article URL to a title and looks up its summary.
func (r *Retriever) describe(ctx context.Context, article string) (desc, title string, err error) {
	if article == "" || r.Summaries == nil {
		return "", "", nil
	}
	title, err = wikipedia.TitleFromURL(article)
	if err != nil {
		return "", "", err
	}
	desc, err = r.Summaries.Describe(ctx, title)
	if errors.Is(err, wikipedia.ErrAmbiguous) {
		r.logger().Debug("Ambiguous article title", "title", title)
		return DisambiguationDescription, title, nil
	}
	if err != nil {
		return "", title, err
	}
	return strings.TrimSpace(desc), title, nil
}

func (r *Retriever) bindings() Bindings {
	b := r.Bindings
	if b.Item == "" {
		b.Item = DefaultBindings.Item
	}
	if b.Label == "" {
		b.Label = DefaultBindings.Label
	}
	if b.Article == "" {
		b.Article = DefaultBindings.Article
	}
	if b.Description == "" {
		b.Description = DefaultBindings.Description
	}
	return b
}

func (r *Retriever) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
