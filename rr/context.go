// Package rr is a ray intersection API over interchangeable compute
// backends. A Context binds one backend device and its intersector; every
// other object is referenced through opaque handles owned by a context.
package rr

import (
	"errors"
	"fmt"

	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/google/uuid"
)

var logger = log.New("rr")

type contextState struct {
	handle      Context
	id          uuid.UUID
	api         API
	device      backend.Device
	intersector backend.Intersector
}

// Option customizes context creation.
type Option func(cfg *backend.Config)

// WithHeapSize sets the size of the device heap backing buffer allocations.
func WithHeapSize(size uint64) Option {
	return func(cfg *backend.Config) {
		cfg.HeapSize = size
	}
}

// WithDeviceFilter selects the first device whose name contains filter.
func WithDeviceFilter(filter string) Option {
	return func(cfg *backend.Config) {
		cfg.DeviceFilter = filter
	}
}

// Run an API call: log entry and success, recover panics and map errors to
// result codes.
func call(op string, fn func() error) (err error) {
	logger.Infof("%s", op)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("%s: recovered from panic: %v", op, r)
			err = &OpError{Op: op, Code: ErrInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err = fn(); err != nil {
		code := classify(err)
		if code == ErrInternal {
			logger.Errorf("%s: %v", op, err)
		} else {
			logger.Warningf("%s: %v", op, err)
		}
		return &OpError{Op: op, Code: code, Err: err}
	}

	logger.Debugf("%s: success", op)
	return nil
}

func lookupContext(ctx Context) (*contextState, error) {
	value, err := handles.get(uint64(ctx), kindContext, 0)
	if err != nil {
		return nil, err
	}
	return value.(*contextState), nil
}

// Run an API call against a context.
func withContext(op string, ctx Context, fn func(c *contextState) error) error {
	return call(op, func() error {
		c, err := lookupContext(ctx)
		if err != nil {
			return err
		}
		return fn(c)
	})
}

// CreateContext creates a context for the given API. The major and minor
// components of apiVersion must match APIVersion.
func CreateContext(apiVersion uint32, api API, opts ...Option) (Context, error) {
	var ctx Context
	err := call("CreateContext", func() error {
		major, minor := apiVersion/1000000, (apiVersion/1000)%1000
		if major != VersionMajor || minor != VersionMinor {
			return fmt.Errorf("requested api version %d.%d; compiled %d.%d: %w", major, minor, VersionMajor, VersionMinor, ErrInvalidAPIVersion)
		}

		switch api {
		case APIDX, APIHIP:
			return fmt.Errorf("no %s backend in this build: %w", api, ErrUnsupportedAPI)
		case APIVK, APICL, APICPU:
		default:
			return fmt.Errorf("unknown api %d: %w", int(api), ErrUnsupportedAPI)
		}

		id := uuid.New()
		cfg := backend.Config{Label: fmt.Sprintf("rr-%s-%s", api, id.String()[:8])}
		for _, opt := range opts {
			opt(&cfg)
		}

		dev, in, err := backend.New(api, cfg)
		if err != nil {
			if errors.Is(err, backend.ErrUnsupportedAPI) {
				return fmt.Errorf("%s backend is not registered: %w", api, ErrUnsupportedAPI)
			}
			return err
		}

		state := &contextState{id: id, api: api, device: dev, intersector: in}
		state.handle = Context(handles.insert(kindContext, 0, state))
		ctx = state.handle

		info := dev.Info()
		logger.Noticef("created %s context %s on %q (%s)", api, id, info.Name, info.Type)
		return nil
	})
	return ctx, err
}

// DestroyContext releases every handle owned by the context and closes its
// device.
func DestroyContext(ctx Context) error {
	return call("DestroyContext", func() error {
		value, err := handles.remove(uint64(ctx), kindContext, 0)
		if err != nil {
			return err
		}
		c := value.(*contextState)

		owned := handles.removeOwned(uint64(ctx))
		for _, h := range owned {
			var relErr error
			switch h.kind {
			case kindEvent:
				relErr = c.device.ReleaseEvent(h.value.(backend.Event))
			case kindCommandStream:
				cs := h.value.(backend.CommandStream)
				if cs.External() {
					relErr = c.device.ReleaseExternalCommandStream(cs)
				} else {
					relErr = c.device.ReleaseCommandStream(cs)
				}
			case kindDevicePtr:
				relErr = c.device.ReleaseDevicePtr(h.value.(backend.DevicePtr))
			}
			if relErr != nil {
				logger.Warningf("DestroyContext: releasing %s %#x: %v", h.kind, h.handle, relErr)
			}
		}
		if len(owned) != 0 {
			logger.Infof("DestroyContext: released %d leaked handles", len(owned))
		}

		if err = c.device.Close(); err != nil {
			return err
		}
		logger.Noticef("destroyed %s context %s", c.api, c.id)
		return nil
	})
}

// SetLogLevel sets the verbosity of the process-wide logger.
func SetLogLevel(level LogLevel) error {
	return call("SetLogLevel", func() error {
		lvl, ok := level.level()
		if !ok {
			return invalidf("unknown log level %d", int(level))
		}
		log.SetLevel(lvl)
		return nil
	})
}

// SetLogFile redirects log output to a file.
func SetLogFile(path string) error {
	return call("SetLogFile", func() error {
		if path == "" {
			return invalidf("empty log file path")
		}
		if err := log.SetSinkFile(path); err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		return nil
	})
}

// GetContextAPI returns the API a context was created with.
func GetContextAPI(ctx Context) (API, error) {
	var api API
	err := withContext("GetContextAPI", ctx, func(c *contextState) error {
		api = c.api
		return nil
	})
	return api, err
}

// GetDeviceInfo describes the device behind a context.
func GetDeviceInfo(ctx Context) (DeviceInfo, error) {
	var info DeviceInfo
	err := withContext("GetDeviceInfo", ctx, func(c *contextState) error {
		info = c.device.Info()
		return nil
	})
	return info, err
}

// Resolve a required device pointer handle.
func (c *contextState) devicePtr(h DevicePtr, name string) (backend.DevicePtr, error) {
	if h == 0 {
		return nil, invalidf("%s: null device pointer", name)
	}
	value, err := handles.get(uint64(h), kindDevicePtr, uint64(c.handle))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return value.(backend.DevicePtr), nil
}

// Resolve an optional device pointer handle; null resolves to nil.
func (c *contextState) optionalDevicePtr(h DevicePtr, name string) (backend.DevicePtr, error) {
	if h == 0 {
		return nil, nil
	}
	return c.devicePtr(h, name)
}

func (c *contextState) stream(h CommandStream) (backend.CommandStream, error) {
	if h == 0 {
		return nil, invalidf("null command stream")
	}
	value, err := handles.get(uint64(h), kindCommandStream, uint64(c.handle))
	if err != nil {
		return nil, err
	}
	return value.(backend.CommandStream), nil
}

func (c *contextState) event(h Event) (backend.Event, error) {
	if h == 0 {
		return nil, invalidf("null event")
	}
	value, err := handles.get(uint64(h), kindEvent, uint64(c.handle))
	if err != nil {
		return nil, err
	}
	return value.(backend.Event), nil
}

func (c *contextState) newDevicePtr(ptr backend.DevicePtr) DevicePtr {
	return DevicePtr(handles.insert(kindDevicePtr, uint64(c.handle), ptr))
}

func (c *contextState) newStream(cs backend.CommandStream) CommandStream {
	return CommandStream(handles.insert(kindCommandStream, uint64(c.handle), cs))
}

// Interop calls require a context created for the interop API.
func (c *contextState) requireAPI(api API) error {
	if c.api != api {
		return fmt.Errorf("%s interop on a %s context: %w", api, c.api, ErrUnsupportedInterop)
	}
	return nil
}
