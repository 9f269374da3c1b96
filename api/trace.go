package api

import "unsafe"

// TraceEventType is the kind of a TraceEvent.
type TraceEventType int32

const (
	TraceLoad TraceEventType = iota
	TraceStore
	TraceBeginRealization
	TraceEndRealization
	TraceProduce
	TraceUpdate
	TraceConsume
	TraceEndConsume
	TraceBeginPipeline
	TraceEndPipeline
)

var traceEventTypeNames = [...]string{
	TraceLoad:             "load",
	TraceStore:            "store",
	TraceBeginRealization: "begin_realization",
	TraceEndRealization:   "end_realization",
	TraceProduce:          "produce",
	TraceUpdate:           "update",
	TraceConsume:          "consume",
	TraceEndConsume:       "end_consume",
	TraceBeginPipeline:    "begin_pipeline",
	TraceEndPipeline:      "end_pipeline",
}

// String implements fmt.Stringer.
func (t TraceEventType) String() string {
	if t < 0 || int(t) >= len(traceEventTypeNames) {
		return "unknown"
	}
	return traceEventTypeNames[t]
}

// TraceEvent is emitted by instrumented pipelines at loads, stores and the boundaries of each stage.
type TraceEvent struct {
	// Func is the name of the stage the event belongs to.
	Func  string
	Event TraceEventType
	// TypeCode, Bits and Lanes describe the element type of Value.
	TypeCode uint8
	Bits     uint8
	Lanes    uint16
	// ValueIndex selects the output of a stage with several outputs.
	ValueIndex int32
	// Value points to the loaded or stored value, or is nil for events without a value.
	Value unsafe.Pointer
	// Coordinates of the access, or the region realized.
	Coordinates []int32
	// ParentID identifies the enclosing begin event, or is zero at the top level.
	ParentID int32
}
