package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marmos91/dittoblk/pkg/volume"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the process running?
//   - Readiness probe: Does the device have a capacity and are all
//     volumes reachable?
//   - Volume health: Per-volume status and latency
type HealthHandler struct {
	device  Device
	volumes []volume.Volume
}

// NewHealthHandler creates a new health handler.
//
// device may be nil, in which case readiness reports unhealthy. volumes is
// empty when the worker runs in another process.
func NewHealthHandler(device Device, volumes []volume.Volume) *HealthHandler {
	return &HealthHandler{device: device, volumes: volumes}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "dittoblk",
	}))
}

// Readiness handles GET /health/ready.
//
// Returns 503 Service Unavailable while the device has no capacity or any
// volume fails its health check.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.device == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("device not initialized"))
		return
	}
	if h.device.Capacity() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("device capacity not set"))
		return
	}

	health, healthy := h.checkVolumes(r.Context())
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(fmt.Sprintf("%d of %d volumes unhealthy", countUnhealthy(health), len(health))))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"device":   h.device.Name(),
		"capacity": h.device.Capacity(),
		"volumes":  len(h.volumes),
	}))
}

// VolumeHealth is the health status of one volume.
type VolumeHealth struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Volumes handles GET /health/volumes.
//
// Returns 200 OK if every volume is healthy, 503 otherwise.
func (h *HealthHandler) Volumes(w http.ResponseWriter, r *http.Request) {
	health, healthy := h.checkVolumes(r.Context())
	if healthy {
		writeJSON(w, http.StatusOK, healthyResponse(health))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(health))
	}
}

func (h *HealthHandler) checkVolumes(ctx context.Context) ([]VolumeHealth, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out := make([]VolumeHealth, 0, len(h.volumes))
	allHealthy := true
	for i, v := range h.volumes {
		start := time.Now()
		err := volume.Check(ctx, v)
		health := VolumeHealth{
			Index:   i,
			Name:    v.String(),
			Status:  "healthy",
			Latency: time.Since(start).String(),
		}
		if err != nil {
			health.Status = "unhealthy"
			health.Error = err.Error()
			allHealthy = false
		}
		out = append(out, health)
	}
	return out, allHealthy
}

func countUnhealthy(health []VolumeHealth) int {
	n := 0
	for _, h := range health {
		if h.Status != "healthy" {
			n++
		}
	}
	return n
}
