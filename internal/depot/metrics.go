package depot

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	chunksWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depot",
		Name:      "chunks_written_total",
		Help:      "Total number of chunks persisted.",
	})

	uploadsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depot",
		Name:      "uploads_started_total",
		Help:      "Total number of upload sessions begun.",
	})

	uploadsFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depot",
		Name:      "uploads_finished_total",
		Help:      "Total number of upload sessions finished into file handles.",
	})

	uploadsAborted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depot",
		Name:      "uploads_aborted_total",
		Help:      "Total number of upload sessions aborted, including reaped ones.",
	})

	uploadsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depot",
		Name:      "uploads_reaped_total",
		Help:      "Total number of expired upload sessions reclaimed by the reaper.",
	})

	filesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "depot",
		Name:      "files_deleted_total",
		Help:      "Total number of file handles deleted.",
	})
)

func init() {
	prometheus.MustRegister(
		chunksWritten,
		uploadsStarted,
		uploadsFinished,
		uploadsAborted,
		uploadsReaped,
		filesDeleted,
	)
}
