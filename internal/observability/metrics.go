package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

type Kind int

const (
	KindCounter Kind = iota
	KindGauge
)

func (k Kind) String() string {
	if k == KindGauge {
		return "gauge"
	}
	return "counter"
}

// Metric describes one exported family. Every sample carries a runner label.
type Metric struct {
	Name string
	Help string
	Kind Kind
}

var (
	BatchesPublished  = Metric{"batches_published_total", "Batches archived, uploaded and announced.", KindCounter}
	JobsEnqueued      = Metric{"jobs_enqueued_total", "Job messages sent to a runner queue.", KindCounter}
	JobsClaimed       = Metric{"jobs_claimed_total", "Job messages claimed and deleted by a worker.", KindCounter}
	MessagesReleased  = Metric{"messages_released_total", "Foreign messages handed back to the queue.", KindCounter}
	MessagesDropped   = Metric{"messages_dropped_total", "Malformed job messages deleted from the queue.", KindCounter}
	BatchesFetched    = Metric{"batches_fetched_total", "Batch archives downloaded and extracted.", KindCounter}
	JobsProcessed     = Metric{"jobs_processed_total", "Jobs whose fetch, run and store phases completed.", KindCounter}
	JobsFailed        = Metric{"jobs_failed_total", "Jobs aborted by a fetch or store error.", KindCounter}
	FilesStored       = Metric{"files_stored_total", "Result files uploaded to the object store.", KindCounter}
	FilesRestored     = Metric{"files_restored_total", "Files removed while restoring batch directories.", KindCounter}
	BatchCacheEntries = Metric{"batch_cache_entries", "Batches materialized in the worker's work directory.", KindGauge}
)

type series struct {
	name   string
	runner string
}

// Sample is one series value.
type Sample struct {
	Metric Metric
	Runner string
	Value  float64
}

// Registry keeps the publisher and worker loop series in process. It is
// rendered in Prometheus text format on demand.
type Registry struct {
	mu       sync.Mutex
	values   map[series]float64
	families map[string]Metric
}

func NewRegistry() *Registry {
	return &Registry{
		values:   make(map[series]float64),
		families: make(map[string]Metric),
	}
}

var Default = NewRegistry()

// Add increases a counter. Counters never go down, so non-positive deltas
// are ignored.
func (r *Registry) Add(m Metric, runner string, delta float64) {
	if delta <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[m.Name] = m
	r.values[series{m.Name, runner}] += delta
}

func (r *Registry) Inc(m Metric, runner string) { r.Add(m, runner, 1) }

func (r *Registry) Set(m Metric, runner string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[m.Name] = m
	r.values[series{m.Name, runner}] = value
}

// Value returns the current value of m for runner, zero if never recorded.
func (r *Registry) Value(m Metric, runner string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[series{m.Name, runner}]
}

// Samples returns all series ordered by metric name, then runner.
func (r *Registry) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, 0, len(r.values))
	for s, v := range r.values {
		out = append(out, Sample{Metric: r.families[s.name], Runner: s.runner, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric.Name != out[j].Metric.Name {
			return out[i].Metric.Name < out[j].Metric.Name
		}
		return out[i].Runner < out[j].Runner
	})
	return out
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = make(map[series]float64)
	r.families = make(map[string]Metric)
}

// RenderPrometheus writes every family with its HELP and TYPE header.
func (r *Registry) RenderPrometheus() string {
	var sb strings.Builder
	current := ""
	for _, s := range r.Samples() {
		name := "adr_" + s.Metric.Name
		if s.Metric.Name != current {
			current = s.Metric.Name
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, s.Metric.Help, name, s.Metric.Kind)
		}
		value := strconv.FormatFloat(s.Value, 'f', -1, 64)
		if s.Runner == "" {
			fmt.Fprintf(&sb, "%s %s\n", name, value)
		} else {
			fmt.Fprintf(&sb, "%s{runner=%q} %s\n", name, s.Runner, value)
		}
	}
	return sb.String()
}

// WriteTextfile replaces path with the rendered registry, writing through a
// temporary file in the same directory so scrapers never see a partial file.
func (r *Registry) WriteTextfile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".adr-metrics-*")
	if err != nil {
		return err
	}
	_, err = tmp.WriteString(r.RenderPrometheus())
	if err = multierr.Append(err, tmp.Close()); err != nil {
		return multierr.Append(err, os.Remove(tmp.Name()))
	}
	return os.Rename(tmp.Name(), path)
}
