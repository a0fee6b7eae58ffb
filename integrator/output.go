package integrator

import (
	"fmt"
	"image"

	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/types"
)

// Output accumulates radiance over successive frames.
type Output struct {
	width, height uint32

	// Accumulated radiance; the w component counts frames.
	accum *buffer
	owner *Renderer

	// Tonemapped contents of the accumulator. Refreshed by every render
	// call.
	Image *image.RGBA
}

func (o *Output) Width() uint32  { return o.width }
func (o *Output) Height() uint32 { return o.height }

// CreateOutput allocates a w x h output.
func (r *Renderer) CreateOutput(w, h uint32) (*Output, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidOutput, w, h)
	}

	accum, err := r.allocate(fmt.Sprintf("output %dx%d", w, h), uint64(w)*uint64(h)*sizeof[types.Vec4]())
	if err != nil {
		return nil, err
	}
	o := &Output{
		width:  w,
		height: h,
		accum:  accum,
		owner:  r,
		Image:  image.NewRGBA(image.Rect(0, 0, int(w), int(h))),
	}
	if err = r.fillOutput(o, types.Vec4{}); err != nil {
		r.release(accum)
		return nil, err
	}
	return o, nil
}

// ReleaseOutput frees the device memory of an output. Releasing the attached
// output detaches it.
func (r *Renderer) ReleaseOutput(o *Output) {
	if o == nil || o.owner != r {
		return
	}
	if r.output == o {
		r.output = nil
	}
	r.release(o.accum)
	o.owner = nil
}

// SetOutput attaches the output that subsequent render calls accumulate
// into. The working set is resized to match the output dimensions.
func (r *Renderer) SetOutput(o *Output) error {
	if r.closed {
		return ErrClosed
	}
	if o == nil || o.owner != r {
		return ErrOutputMismatch
	}

	if r.ws == nil || r.ws.numPixels != o.width*o.height {
		if err := r.resizeWorkingSet(o.width * o.height); err != nil {
			return err
		}
	}
	r.output = o
	r.resetSampler = true
	r.frame = 0
	return nil
}

// Clear fills the output accumulator with val and restarts the sample
// sequence.
func (r *Renderer) Clear(val types.Vec4, o *Output) error {
	if r.closed {
		return ErrClosed
	}
	if o == nil || o.owner != r {
		return ErrOutputMismatch
	}
	if err := r.fillOutput(o, val); err != nil {
		return err
	}
	r.resetSampler = true
	r.frame = 0
	return nil
}

func (r *Renderer) fillOutput(o *Output, val types.Vec4) error {
	return r.hostWrite(o.accum, func(mem []byte) {
		accum := backend.View[types.Vec4](mem)
		for i := range accum {
			accum[i] = val
		}
	})
}

// GetData returns the average radiance accumulated into each pixel.
func (r *Renderer) GetData(o *Output) ([]types.Vec3, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if o == nil || o.owner != r {
		return nil, ErrOutputMismatch
	}

	accum, err := download[types.Vec4](r, o.accum)
	if err != nil {
		return nil, err
	}
	out := make([]types.Vec3, o.width*o.height)
	for i := range out {
		if w := accum[i][3]; w > 0 {
			out[i] = accum[i].Vec3().Mul(1 / w)
		}
	}
	return out, nil
}
