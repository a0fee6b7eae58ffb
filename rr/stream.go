package rr

import (
	"github.com/achilleasa/rayforge/rr/backend"
)

// AllocateCommandStream returns a device-owned command stream.
func AllocateCommandStream(ctx Context) (CommandStream, error) {
	var stream CommandStream
	err := withContext("AllocateCommandStream", ctx, func(c *contextState) error {
		cs, err := c.device.AllocateCommandStream()
		if err != nil {
			return err
		}
		stream = c.newStream(cs)
		return nil
	})
	return stream, err
}

// ReleaseCommandStream returns a device-owned stream to the device. The
// stream is recycled only after its last submission completes.
func ReleaseCommandStream(ctx Context, stream CommandStream) error {
	return withContext("ReleaseCommandStream", ctx, func(c *contextState) error {
		cs, err := c.stream(stream)
		if err != nil {
			return err
		}
		if cs.External() {
			return invalidf("stream %#x wraps a native object; use ReleaseExternalCommandStream", uint64(stream))
		}
		if _, err = handles.remove(uint64(stream), kindCommandStream, uint64(c.handle)); err != nil {
			return err
		}
		return c.device.ReleaseCommandStream(cs)
	})
}

// ReleaseExternalCommandStream releases a stream created by one of the
// GetCommandStreamFrom* interop calls. The native object is not touched.
func ReleaseExternalCommandStream(ctx Context, stream CommandStream) error {
	return withContext("ReleaseExternalCommandStream", ctx, func(c *contextState) error {
		cs, err := c.stream(stream)
		if err != nil {
			return err
		}
		if !cs.External() {
			return invalidf("stream %#x is device owned; use ReleaseCommandStream", uint64(stream))
		}
		if _, err = handles.remove(uint64(stream), kindCommandStream, uint64(c.handle)); err != nil {
			return err
		}
		return c.device.ReleaseExternalCommandStream(cs)
	})
}

// SubmitCommandStream submits the commands recorded so far. If waitEvent is
// not null, execution starts after it completes. The returned event
// completes when the submission finishes.
func SubmitCommandStream(ctx Context, stream CommandStream, waitEvent Event) (Event, error) {
	var event Event
	err := withContext("SubmitCommandStream", ctx, func(c *contextState) error {
		cs, err := c.stream(stream)
		if err != nil {
			return err
		}
		if cs.External() {
			return invalidf("external stream %#x is submitted by its owner", uint64(stream))
		}

		var wait backend.Event
		if waitEvent != 0 {
			if wait, err = c.event(waitEvent); err != nil {
				return err
			}
		}

		ev, err := c.device.SubmitCommandStream(cs, wait)
		if err != nil {
			return err
		}
		event = Event(handles.insert(kindEvent, uint64(c.handle), ev))
		return nil
	})
	return event, err
}

// ReleaseEvent releases an event. Releasing does not wait for completion.
func ReleaseEvent(ctx Context, event Event) error {
	return withContext("ReleaseEvent", ctx, func(c *contextState) error {
		if event == 0 {
			return invalidf("null event")
		}
		value, err := handles.remove(uint64(event), kindEvent, uint64(c.handle))
		if err != nil {
			return err
		}
		return c.device.ReleaseEvent(value.(backend.Event))
	})
}

// WaitEvent blocks until the submission behind event completes. Waiting on
// a completed event returns immediately. Failures of the submitted commands
// are reported here.
func WaitEvent(ctx Context, event Event) error {
	return withContext("WaitEvent", ctx, func(c *contextState) error {
		ev, err := c.event(event)
		if err != nil {
			return err
		}
		return c.device.WaitEvent(ev)
	})
}

// CmdDispatchHost records a host function that runs in stream order on the
// device queue. Errors returned by fn fail the submission.
func CmdDispatchHost(ctx Context, stream CommandStream, label string, fn func() error) error {
	return withContext("CmdDispatchHost", ctx, func(c *contextState) error {
		if fn == nil {
			return invalidf("nil host function")
		}
		cs, err := c.stream(stream)
		if err != nil {
			return err
		}
		return c.device.Record(cs, label, backend.Command(fn))
	})
}
