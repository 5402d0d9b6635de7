package main

import (
	"fmt"
	"io"
	"net/http"

	"structurecraft.ai/internal/persistence/r2s3"
)

// metrics writes the minimal Prometheus text exposition format.
func (h *api) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	ws := h.app.World.Stats()
	gauge(rw, "p2s_world_voxels", "Non-air voxels in the world.", int64(ws.Voxels))
	gauge(rw, "p2s_world_chunks", "Chunks holding at least one voxel.", int64(ws.Chunks))
	counter(rw, "p2s_world_writes_total", "Accepted block writes.", ws.Writes)
	counter(rw, "p2s_world_rejected_total", "Writes rejected for unknown blocks.", ws.Rejected)

	is := h.app.Index.Stats()
	gauge(rw, "p2s_index_queue_depth", "Index writer backlog.", int64(is.QueueDepth))
	gauge(rw, "p2s_index_queue_capacity", "Index writer queue capacity.", int64(is.QueueCapacity))
	fmt.Fprintf(rw, "# HELP p2s_index_dropped_total Rows dropped because the index queue was full.\n")
	fmt.Fprintf(rw, "# TYPE p2s_index_dropped_total counter\n")
	fmt.Fprintf(rw, "p2s_index_dropped_total{kind=%q} %d\n", "build", is.DropBuildTotal)
	fmt.Fprintf(rw, "p2s_index_dropped_total{kind=%q} %d\n", "snapshot", is.DropSnapshotTotal)

	if h.app.Mirror != nil {
		writeMirrorMetrics(rw, h.app.Mirror.Stats())
	}
}

func writeMirrorMetrics(w io.Writer, s r2s3.Stats) {
	gauge(w, "p2s_mirror_queue_depth", "Current mirror queue depth.", int64(s.QueueDepth))
	gauge(w, "p2s_mirror_queue_capacity", "Mirror queue capacity.", int64(s.QueueCapacity))
	counter(w, "p2s_mirror_enqueued_total", "Total mirror enqueue attempts.", s.EnqueuedTotal)
	counter(w, "p2s_mirror_queue_saturated_total", "Enqueue attempts that found the queue full.", s.QueueSaturatedTotal)
	counter(w, "p2s_mirror_dropped_total", "Files dropped because the queue stayed full.", s.DroppedTotal)
	counter(w, "p2s_mirror_upload_success_total", "Successful uploads.", s.UploadSuccessTotal)
	counter(w, "p2s_mirror_upload_fail_total", "Uploads that failed after retry.", s.UploadFailTotal)
	gauge(w, "p2s_mirror_last_success_unix", "Unix time of the last successful upload.", s.LastSuccessUnix)
	gauge(w, "p2s_mirror_last_error_unix", "Unix time of the last failed upload.", s.LastErrorUnix)
}

func gauge(w io.Writer, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
}

func counter(w io.Writer, name, help string, v uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}
