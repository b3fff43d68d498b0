package sandbox

import (
	"errors"
	"sync"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/soft"
)

// Backend creates hardware devices.
//
// Implementations are provided by GPU backend packages. Users opt in via
// blank import:
//
//	import _ "github.com/gogpu/sandbox/gpu" // enables the Vulkan backend
type Backend interface {
	// Name returns the backend name (e.g., "vulkan").
	Name() string

	// NewDevice opens a device on the best available adapter.
	NewDevice() (gpucore.Device, error)
}

var (
	backendMu sync.RWMutex
	backend   Backend
)

// RegisterBackend registers the hardware backend used by NewDevice.
// Subsequent calls replace the previous one. The backend receives the
// current logger.
func RegisterBackend(b Backend) error {
	if b == nil {
		return errors.New("sandbox: backend must not be nil")
	}
	backendMu.Lock()
	backend = b
	backendMu.Unlock()

	propagateLogger(b, Logger())
	return nil
}

// RegisteredBackend returns the registered hardware backend, or nil.
func RegisteredBackend() Backend {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend
}

// NewDevice returns a hardware device when hardware is true and a backend
// is registered and able to open one. Otherwise it returns the software
// device, which runs every program on the CPU.
func NewDevice(hardware bool) gpucore.Device {
	if hardware {
		if b := RegisteredBackend(); b != nil {
			dev, err := b.NewDevice()
			if err == nil {
				Logger().Info("device selected", "backend", b.Name(), "device", dev.Name())
				return dev
			}
			Logger().Warn("hardware device not available, using software", "backend", b.Name(), "err", err)
		} else {
			Logger().Warn("no hardware backend registered, using software")
		}
	}
	return NewSoftwareDevice(0)
}

// NewSoftwareDevice returns a CPU device using the given number of worker
// goroutines (0 selects GOMAXPROCS).
func NewSoftwareDevice(workers int) gpucore.Device {
	return soft.New(soft.WithWorkers(workers))
}
