package commit

import "github.com/prometheus/client_golang/prometheus"

// Keys for commit metrics.
const (
	CommitsTotalKey          = "lix_commits_total"
	FailedCommitsTotalKey    = "lix_failed_commits_total"
	ChangesTotalKey          = "lix_committed_changes_total"
	UntrackedRowsTotalKey    = "lix_untracked_rows_total"
	CommitDurationSecondsKey = "lix_commit_duration_seconds"
)

// Metrics are the collectors a commit updates.
type Metrics struct {
	CommitsTotal          *prometheus.CounterVec
	FailedCommitsTotal    prometheus.Counter
	ChangesTotal          prometheus.Counter
	UntrackedRowsTotal    prometheus.Counter
	CommitDurationSeconds prometheus.Histogram
}

// NewMetrics creates the commit collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: CommitsTotalKey,
			Help: "Cumulative number of commits, by kind (graph or untracked).",
		}, []string{"kind"}),
		FailedCommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: FailedCommitsTotalKey,
			Help: "Cumulative number of commits rolled back.",
		}),
		ChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: ChangesTotalKey,
			Help: "Cumulative number of change records appended.",
		}),
		UntrackedRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: UntrackedRowsTotalKey,
			Help: "Cumulative number of untracked rows flushed.",
		}),
		CommitDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    CommitDurationSecondsKey,
			Help:    "Duration of Commit calls.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector of m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CommitsTotal,
		m.FailedCommitsTotal,
		m.ChangesTotal,
		m.UntrackedRowsTotal,
		m.CommitDurationSeconds,
	}
}
