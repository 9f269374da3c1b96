package native

import (
	"unsafe"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/sys"
)

// NewWrapper returns the code of the type-erased entry point of the function mainName of type mainType. The wrapper
// has type WrapperType: its single argument points to a []unsafe.Pointer with one pointer per parameter of the main
// function, in order, the last being the output buffer.
//
// A wrapper call with the wrong number of pointers, or a nil pointer, returns sys.StatusBadArguments without calling
// the main function. A nil user context slot is filled with the user context of the invocation.
func NewWrapper(mainName string, mainType *api.Type) Code {
	ucSlot := -1
	for i, p := range mainType.Params {
		if p == api.ValueTypeUserContext {
			ucSlot = i
			break
		}
	}

	return func(fr *Frame, args []unsafe.Pointer) int32 {
		argv := *(*[]unsafe.Pointer)(HandleValue(args[0]))
		if len(argv) != len(mainType.Params) {
			return sys.StatusBadArguments
		}
		for i, arg := range argv {
			if arg == nil && i != ucSlot {
				return sys.StatusBadArguments
			}
		}

		if ucSlot < 0 {
			return fr.Call(mainName, argv...)
		}
		if uc := (*api.UserContext)(argv[ucSlot]); uc != nil {
			return fr.withUserContext(uc).Call(mainName, argv...)
		}
		patched := make([]unsafe.Pointer, len(argv))
		copy(patched, argv)
		patched[ucSlot] = fr.ucArg()
		return fr.Call(mainName, patched...)
	}
}
