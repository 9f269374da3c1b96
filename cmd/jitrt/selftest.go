package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/jitrt/jitrt"
	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/pipelines"
	"github.com/jitrt/jitrt/native"
	"github.com/jitrt/jitrt/sys"
)

const pipelineName = "brighten"

// runSelftest finalizes a brighten pipeline against the shared runtime for target, then runs it through the typed
// and the type-erased entry points and checks both results.
func runSelftest(ctx context.Context, shared *jitrt.SharedRuntime, target jitrt.Target, s *settings, trace bool,
	stdOut io.Writer,
) error {
	rt, err := shared.Get(ctx, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdOut, "runtime: %s for %s, %d exports\n", rt.ID(), target, rt.Exports().Len())

	b := native.NewBuilder(pipelineName)
	rt.DeclareExterns(b)
	mod, err := pipelines.AddBrighten(b, pipelineName).Build()
	if err != nil {
		return err
	}
	pipeline := jitrt.NewCompiledModule()
	if err = pipeline.Finalize(ctx, mod, pipelineName, []*jitrt.CompiledModule{rt}, nil); err != nil {
		return err
	}
	defer pipeline.Close(ctx) //nolint

	if pipeline.MainFunction() == nil {
		return fmt.Errorf("%s has no entry point", pipelineName)
	}

	var handlers api.Handlers
	if trace {
		var mu sync.Mutex
		handlers.Trace = func(_ *api.UserContext, ev *api.TraceEvent) int32 {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(stdOut, "trace: %s %s\n", ev.Func, ev.Event)
			return 0
		}
	}
	uc := jitrt.NewUserContext(nil, handlers)

	src := make([]byte, s.width*s.height)
	for i := range src {
		src[i] = byte(i * 31)
	}

	dst := make([]byte, len(src))
	status, err := pipeline.MainFunction().Call(uc, pipelines.NewImage(src, s.width, s.height), s.amount,
		pipelines.NewImage(dst, s.width, s.height))
	if err != nil {
		return err
	}
	if err = check("main", status, src, dst, s.amount); err != nil {
		return err
	}
	fmt.Fprintf(stdOut, "main: ok, %dx%d pixels\n", s.width, s.height)

	dst = make([]byte, len(src))
	out := pipelines.NewImage(dst, s.width, s.height)
	amount := s.amount
	status = pipeline.WrapperFunction()([]unsafe.Pointer{
		unsafe.Pointer(uc), unsafe.Pointer(pipelines.NewImage(src, s.width, s.height)), unsafe.Pointer(&amount),
		unsafe.Pointer(out),
	})
	if err = check("wrapper", status, src, dst, s.amount); err != nil {
		return err
	}
	fmt.Fprintln(stdOut, "wrapper: ok")

	return checkDevice(rt, out, stdOut)
}

func check(entry string, status int32, src, dst []byte, amount uint8) error {
	if status != sys.StatusOK {
		return fmt.Errorf("%s returned status %d", entry, status)
	}
	for i, v := range src {
		expected := int(v) + int(amount)
		if expected > 255 {
			expected = 255
		}
		if dst[i] != byte(expected) {
			return fmt.Errorf("%s: pixel %d is %d, expected %d", entry, i, dst[i], expected)
		}
	}
	return nil
}

// checkDevice round trips out through the device backend of rt, when there is one.
func checkDevice(rt *jitrt.CompiledModule, out *api.Buffer, stdOut io.Writer) error {
	if _, ok := rt.Lookup(native.SymbolCopyToDevice); !ok {
		fmt.Fprintln(stdOut, "device: absent")
		return nil
	}
	want := append([]byte(nil), out.Bytes()...)
	if status := rt.CopyToDevice(out); status != sys.StatusOK {
		return fmt.Errorf("copy to device returned status %d", status)
	}
	for i := range out.Bytes() {
		out.Bytes()[i] = 0
	}
	out.DeviceDirty = true
	if status := rt.CopyToHost(out); status != sys.StatusOK {
		return fmt.Errorf("copy to host returned status %d", status)
	}
	if string(out.Bytes()) != string(want) {
		return fmt.Errorf("device round trip changed the output")
	}
	if status := rt.DeviceFree(out); status != sys.StatusOK {
		return fmt.Errorf("device free returned status %d", status)
	}
	fmt.Fprintln(stdOut, "device: ok")
	return nil
}
