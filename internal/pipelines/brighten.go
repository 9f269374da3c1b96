// Package pipelines holds hand-written pipelines in the native calling convention. They stand in for generated
// code in the command line tool and in tests.
package pipelines

import (
	"unsafe"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/native"
)

// BrightenType is (user_context, input buffer, amount uint8, output buffer).
var BrightenType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeBuffer, api.ValueTypeUint8,
	api.ValueTypeBuffer)

// AddBrighten defines the function name in b: it adds amount to every byte of a two-dimensional input, saturating
// at 255, and writes the result to an output of the same shape. Rows are processed in parallel. The runtime
// symbols must be declared as externs of b.
func AddBrighten(b *native.Builder, name string) *native.Builder {
	return b.ExportFunction(name, BrightenType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
		return brighten(fr, name, (*api.Buffer)(args[1]), *(*uint8)(args[2]), (*api.Buffer)(args[3]))
	})
}

type brightenClosure struct {
	in, out *api.Buffer
	lut     *[256]byte
}

func brighten(fr *native.Frame, name string, in *api.Buffer, amount uint8, out *api.Buffer) int32 {
	if in.Dimensions() != 2 || in.ElemSize != 1 || out.ElemSize != 1 || in.Extent != out.Extent {
		fr.Errorf("%s: input of %d dimensions and shape %v does not match output of shape %v",
			name, in.Dimensions(), in.Extent[:2], out.Extent[:2])
	}
	fr.Trace(&api.TraceEvent{Func: name, Event: api.TraceBeginPipeline})

	lut := (*[256]byte)(fr.Malloc(256))
	if lut == nil {
		fr.Errorf("%s: out of memory", name)
	}
	defer fr.Free(unsafe.Pointer(lut))
	for v := range lut {
		if sum := v + int(amount); sum > 255 {
			lut[v] = 255
		} else {
			lut[v] = byte(sum)
		}
	}

	fr.Trace(&api.TraceEvent{Func: name, Event: api.TraceProduce, Coordinates: []int32{
		out.Min[0], out.Extent[0], out.Min[1], out.Extent[1],
	}})
	cl := &brightenClosure{in: in, out: out, lut: lut}
	status := fr.DoParFor(brightenRow, 0, out.Extent[1], unsafe.Pointer(cl))
	out.HostDirty = true

	fr.Trace(&api.TraceEvent{Func: name, Event: api.TraceEndPipeline})
	return status
}

func brightenRow(_ *api.UserContext, y int32, closure unsafe.Pointer) int32 {
	cl := (*brightenClosure)(closure)
	for x := int32(0); x < cl.out.Extent[0]; x++ {
		src := (*byte)(unsafe.Add(cl.in.Host, x*cl.in.Stride[0]+y*cl.in.Stride[1]))
		dst := (*byte)(unsafe.Add(cl.out.Host, x*cl.out.Stride[0]+y*cl.out.Stride[1]))
		*dst = cl.lut[*src]
	}
	return 0
}

// NewImage returns a dense width by height buffer of bytes over data, which must hold width*height bytes.
func NewImage(data []byte, width, height int32) *api.Buffer {
	return &api.Buffer{
		Host:     unsafe.Pointer(&data[0]),
		Extent:   [api.MaxDimensions]int32{width, height},
		Stride:   [api.MaxDimensions]int32{1, width},
		ElemSize: 1,
	}
}
