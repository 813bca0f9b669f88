package obs

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netcrew_build_info",
			Help: "Constant 1, labelled with the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)

	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netcrew_start_time_seconds",
		Help: "Unix time the API process started.",
	})
)

// InitBuildInfo publishes the build labels and the process start time.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
		startTime.Set(float64(time.Now().Unix()))
	})
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
