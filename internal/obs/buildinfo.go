package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Build identifies the running binary. /healthz reports it and build_info
// exports it.
type Build struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	StartedAt time.Time `json:"startedAt"`
}

// Uptime is the time since the process recorded its start.
func (b Build) Uptime(now time.Time) time.Duration {
	return now.Sub(b.StartedAt)
}

var (
	buildMu  sync.RWMutex
	current  = Build{Service: "securecms-api", Version: "dev", Commit: "unknown", StartedAt: time.Now().UTC()}
	infoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Constant 1 labelled with the running service, version and commit.",
		},
		[]string{"service", "version", "commit"},
	)
)

// SetBuild records the running binary. Empty arguments keep the previous
// value. The start time is fixed at process start.
func SetBuild(service, version, commit string) Build {
	buildMu.Lock()
	if service != "" {
		current.Service = service
	}
	if version != "" {
		current.Version = version
	}
	if commit != "" {
		current.Commit = commit
	}
	b := current
	buildMu.Unlock()

	infoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(b.Service, b.Version, b.Commit).Set(1)
	return b
}

// CurrentBuild returns what SetBuild last recorded.
func CurrentBuild() Build {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return current
}
