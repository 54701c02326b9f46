package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/pkg/blockdev"
	"github.com/marmos91/dittoblk/pkg/queue"
)

// Device is the view of the block device the API needs.
type Device interface {
	ID() uuid.UUID
	Name() string
	Capacity() int64
	SetCapacity(bytes int64) error
	MaxTransfer() int64
	Openers() int
	Stats() queue.Stats
}

// DeviceHandler serves device inspection and the capacity attribute.
type DeviceHandler struct {
	device Device
}

// NewDeviceHandler creates a new device handler.
func NewDeviceHandler(device Device) *DeviceHandler {
	return &DeviceHandler{device: device}
}

// DeviceResponse describes the device.
type DeviceResponse struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Capacity      int64       `json:"capacity"`
	CapacityHuman string      `json:"capacity_human"`
	MaxTransfer   int64       `json:"max_transfer"`
	Openers       int         `json:"openers"`
	Queue         queue.Stats `json:"queue"`
}

// SetCapacityRequest is the body of PUT /api/v1/device/capacity.
// Capacity is a byte count or a size string such as "10Gi".
type SetCapacityRequest struct {
	Capacity any `json:"capacity"`
}

// Get handles GET /api/v1/device.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(h.describe()))
}

// SetCapacity handles PUT /api/v1/device/capacity.
//
// The value is rounded down to a multiple of 4096. A value that rounds to
// zero or exceeds the addressable maximum is rejected with 400 and the
// capacity is unchanged. Zero is accepted and clears the capacity.
func (h *DeviceHandler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	var req SetCapacityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	capacity, err := parseCapacity(req.Capacity)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.device.SetCapacity(capacity); err != nil {
		if errors.Is(err, blockdev.ErrInvalidCapacity) {
			BadRequest(w, err.Error())
			return
		}
		logger.Error("set capacity failed", logger.KeyDevice, h.device.Name(), logger.Err(err))
		InternalServerError(w, "Failed to set capacity")
		return
	}

	writeJSON(w, http.StatusOK, okResponse(h.describe()))
}

func (h *DeviceHandler) describe() DeviceResponse {
	capacity := h.device.Capacity()
	return DeviceResponse{
		ID:            h.device.ID().String(),
		Name:          h.device.Name(),
		Capacity:      capacity,
		CapacityHuman: bytesize.ByteSize(capacity).String(),
		MaxTransfer:   h.device.MaxTransfer(),
		Openers:       h.device.Openers(),
		Queue:         h.device.Stats(),
	}
}

func parseCapacity(v any) (int64, error) {
	switch c := v.(type) {
	case float64:
		if c < 0 || c != float64(int64(c)) {
			return 0, fmt.Errorf("invalid capacity %v", c)
		}
		return int64(c), nil
	case string:
		b, err := bytesize.ParseByteSize(c)
		if err != nil {
			return 0, fmt.Errorf("invalid capacity %q: %w", c, err)
		}
		return b.Int64(), nil
	case nil:
		return 0, errors.New("capacity is required")
	default:
		return 0, fmt.Errorf("invalid capacity type %T", v)
	}
}
