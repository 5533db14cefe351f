package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus records metrics into its own registry.
type Prometheus struct {
	registry *prom.Registry

	generationTotal   *prom.CounterVec
	generationSeconds *prom.HistogramVec
	tokensTotal       *prom.CounterVec
	operationTotal    *prom.CounterVec
	operationSeconds  *prom.HistogramVec
	verdictTotal      *prom.CounterVec
	accuracy          *prom.GaugeVec
}

// NewPrometheus creates a recorder with all collectors registered.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prom.NewRegistry(),
		generationTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "concepteng_generation_total",
			Help: "Total number of text generation calls",
		}, []string{"model", "success"}),
		generationSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "concepteng_generation_seconds",
			Help:    "Text generation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"model", "success"}),
		tokensTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "concepteng_tokens_total",
			Help: "Tokens consumed by text generation",
		}, []string{"model", "kind"}),
		operationTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "concepteng_operation_total",
			Help: "Total number of operations",
		}, []string{"op", "success"}),
		operationSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "concepteng_operation_seconds",
			Help:    "Operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		verdictTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "concepteng_verdict_total",
			Help: "Verdicts returned by classify and validate operations",
		}, []string{"op", "verdict"}),
		accuracy: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "concepteng_experiment_accuracy",
			Help: "Accuracy of the most recent experiment per model and concept",
		}, []string{"model", "concept"}),
	}

	p.registry.MustRegister(
		p.generationTotal, p.generationSeconds, p.tokensTotal,
		p.operationTotal, p.operationSeconds, p.verdictTotal, p.accuracy,
	)
	return p
}

func (p *Prometheus) ObserveGeneration(model string, success bool, seconds float64) {
	p.generationTotal.WithLabelValues(model, strconv.FormatBool(success)).Inc()
	p.generationSeconds.WithLabelValues(model, strconv.FormatBool(success)).Observe(seconds)
}

func (p *Prometheus) AddTokens(model string, prompt, completion int) {
	p.tokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	p.tokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
}

func (p *Prometheus) ObserveOperation(op string, success bool, seconds float64) {
	p.operationTotal.WithLabelValues(op, strconv.FormatBool(success)).Inc()
	p.operationSeconds.WithLabelValues(op, strconv.FormatBool(success)).Observe(seconds)
}

func (p *Prometheus) IncVerdict(op, verdict string) {
	p.verdictTotal.WithLabelValues(op, verdict).Inc()
}

func (p *Prometheus) SetExperimentAccuracy(model, conceptID string, accuracy float64) {
	p.accuracy.WithLabelValues(model, conceptID).Set(accuracy)
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prom.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Enable installs a new Prometheus recorder as the global recorder.
func Enable() *Prometheus {
	p := NewPrometheus()
	SetRecorder(p)
	return p
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func (p *Prometheus) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
