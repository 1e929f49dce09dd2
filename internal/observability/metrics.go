package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Filing targets used as the "target" label of copies_filed_total.
const (
	TargetTax    = "tax"
	TargetTenant = "tenant"
)

// Metrics holds the application counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	foldersCreated      prometheus.Counter
	filesAdded          prometheus.Counter
	copiesFiled         *prometheus.CounterVec
	cascadeDeletes      *prometheus.CounterVec
	classifierFallbacks prometheus.Counter
}

// NewMetrics registers the counters on a fresh registry
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		foldersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akten",
			Name:      "folders_created_total",
			Help:      "Folders created by users or the filing engine.",
		}),
		filesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akten",
			Name:      "files_added_total",
			Help:      "Original documents added by users.",
		}),
		copiesFiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akten",
			Name:      "copies_filed_total",
			Help:      "Copies created by the filing engine.",
		}, []string{"target"}),
		cascadeDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akten",
			Name:      "cascade_deletes_total",
			Help:      "Records visited by cascading folder deletes.",
		}, []string{"kind", "result"}),
		classifierFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akten",
			Name:      "classifier_fallbacks_total",
			Help:      "Classifier calls that fell back to default metadata.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.foldersCreated,
		m.filesAdded,
		m.copiesFiled,
		m.cascadeDeletes,
		m.classifierFallbacks,
		collectors.NewGoCollector(),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FolderCreated() {
	if m != nil {
		m.foldersCreated.Inc()
	}
}

func (m *Metrics) FileAdded() {
	if m != nil {
		m.filesAdded.Inc()
	}
}

func (m *Metrics) CopyFiled(target string) {
	if m != nil {
		m.copiesFiled.WithLabelValues(target).Inc()
	}
}

// CascadeDelete counts one record visited by a cascade; kind is "folder" or "file".
func (m *Metrics) CascadeDelete(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cascadeDeletes.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ClassifierFallback() {
	if m != nil {
		m.classifierFallbacks.Inc()
	}
}
