package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDeviceGet(t *testing.T) {
	dev := newFakeDevice(1 << 30)
	handler := NewDeviceHandler(dev)
	w := httptest.NewRecorder()

	handler.Get(w, httptest.NewRequest("GET", "/api/v1/device", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	data := decodeResponse(t, w).Data.(map[string]interface{})
	if data["id"] != dev.id.String() {
		t.Errorf("Expected id %s, got %v", dev.id, data["id"])
	}
	if data["capacity"] != float64(1<<30) {
		t.Errorf("Expected capacity 1GiB, got %v", data["capacity"])
	}
	if data["capacity_human"] != "1.00GiB" {
		t.Errorf("Unexpected human capacity %v", data["capacity_human"])
	}
	q := data["queue"].(map[string]interface{})
	if q["queued"] != float64(1) {
		t.Errorf("Expected queued 1, got %v", q["queued"])
	}
}

func TestDeviceSetCapacity(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCap    int64
	}{
		{"number rounds down", `{"capacity": 10000}`, http.StatusOK, 8192},
		{"size string", `{"capacity": "16Mi"}`, http.StatusOK, 16 << 20},
		{"zero clears", `{"capacity": 0}`, http.StatusOK, 0},
		{"below one sector", `{"capacity": 100}`, http.StatusBadRequest, 4096},
		{"negative", `{"capacity": -4096}`, http.StatusBadRequest, 4096},
		{"fractional", `{"capacity": 4096.5}`, http.StatusBadRequest, 4096},
		{"bad string", `{"capacity": "lots"}`, http.StatusBadRequest, 4096},
		{"missing", `{}`, http.StatusBadRequest, 4096},
		{"malformed", `{capacity`, http.StatusBadRequest, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(4096)
			handler := NewDeviceHandler(dev)
			w := httptest.NewRecorder()
			req := httptest.NewRequest("PUT", "/api/v1/device/capacity", strings.NewReader(tt.body))

			handler.SetCapacity(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d (%s)", tt.wantStatus, w.Code, w.Body.String())
			}
			if dev.capacity != tt.wantCap {
				t.Errorf("Expected capacity %d, got %d", tt.wantCap, dev.capacity)
			}
		})
	}
}

func TestDeviceSetCapacity_InternalError(t *testing.T) {
	dev := newFakeDevice(4096)
	dev.setErr = errors.New("boom")
	handler := NewDeviceHandler(dev)
	w := httptest.NewRecorder()

	handler.SetCapacity(w, httptest.NewRequest("PUT", "/api/v1/device/capacity", strings.NewReader(`{"capacity": 8192}`)))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}
