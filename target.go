package jitrt

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sys/cpu"
)

// Feature is an optional capability of a Target.
type Feature string

const (
	FeatureSSE41  Feature = "sse41"
	FeatureAVX    Feature = "avx"
	FeatureAVX2   Feature = "avx2"
	FeatureFMA    Feature = "fma"
	FeatureF16C   Feature = "f16c"
	FeatureAVX512 Feature = "avx512"
	FeatureNEON   Feature = "neon"
	// FeatureDeviceEmu makes the shared runtime export device glue backed by host memory.
	FeatureDeviceEmu Feature = "device_emu"
)

var knownFeatures = map[Feature]struct{}{
	FeatureSSE41: {}, FeatureAVX: {}, FeatureAVX2: {}, FeatureFMA: {}, FeatureF16C: {}, FeatureAVX512: {},
	FeatureNEON: {}, FeatureDeviceEmu: {},
}

var knownOS = map[string]struct{}{
	"linux": {}, "osx": {}, "windows": {}, "android": {}, "ios": {}, "freebsd": {},
}

// Target describes the machine compiled code is generated for.
//
// The string form is "arch-bits-os" followed by any features, e.g. "x86-64-linux-avx2-sse41". The tokens can
// appear in any order. "host" stands for HostTarget and may be followed by extra features, e.g.
// "host-device_emu".
type Target struct {
	// Arch is "x86" or "arm".
	Arch string
	// Bits is 32 or 64.
	Bits int
	// OS is one of "linux", "osx", "windows", "android", "ios" or "freebsd".
	OS string
	// Features are kept sorted and unique by With and ParseTarget.
	Features []Feature
}

// HostTarget returns the Target of the running machine, with the CPU features it supports.
func HostTarget() Target {
	t := Target{OS: runtime.GOOS, Bits: 64}
	if t.OS == "darwin" {
		t.OS = "osx"
	}
	switch runtime.GOARCH {
	case "amd64":
		t.Arch = "x86"
		t = t.With(hostX86Features()...)
	case "386":
		t.Arch, t.Bits = "x86", 32
		t = t.With(hostX86Features()...)
	case "arm64":
		t.Arch = "arm"
		if cpu.ARM64.HasASIMD {
			t = t.With(FeatureNEON)
		}
	case "arm":
		t.Arch, t.Bits = "arm", 32
	default:
		t.Arch = runtime.GOARCH
	}
	return t
}

func hostX86Features() (features []Feature) {
	if cpu.X86.HasSSE41 {
		features = append(features, FeatureSSE41)
	}
	if cpu.X86.HasAVX {
		features = append(features, FeatureAVX)
	}
	if cpu.X86.HasAVX2 {
		features = append(features, FeatureAVX2)
	}
	if cpu.X86.HasFMA {
		features = append(features, FeatureFMA)
	}
	if cpu.X86.HasAVX512F {
		features = append(features, FeatureAVX512)
	}
	return
}

// ParseTarget parses the string form of a Target.
func ParseTarget(s string) (Target, error) {
	var t Target
	var features []Feature
	for i, tok := range strings.Split(strings.TrimSpace(s), "-") {
		switch {
		case tok == "host" && i == 0:
			t = HostTarget()
		case tok == "x86" || tok == "arm":
			t.Arch = tok
		case tok == "32":
			t.Bits = 32
		case tok == "64":
			t.Bits = 64
		default:
			if _, ok := knownOS[tok]; ok {
				t.OS = tok
			} else if _, ok := knownFeatures[Feature(tok)]; ok {
				features = append(features, Feature(tok))
			} else {
				return Target{}, fmt.Errorf("invalid target %q: unknown token %q", s, tok)
			}
		}
	}
	switch {
	case t.Arch == "":
		return Target{}, fmt.Errorf("invalid target %q: missing arch", s)
	case t.Bits == 0:
		return Target{}, fmt.Errorf("invalid target %q: missing bits", s)
	case t.OS == "":
		return Target{}, fmt.Errorf("invalid target %q: missing os", s)
	}
	return t.With(features...), nil
}

// MustParseTarget is like ParseTarget, but panics on error.
func MustParseTarget(s string) Target {
	t, err := ParseTarget(s)
	if err != nil {
		panic(err)
	}
	return t
}

// With returns a copy of t with the given features added.
func (t Target) With(features ...Feature) Target {
	set := make(map[Feature]struct{}, len(t.Features)+len(features))
	for _, f := range t.Features {
		set[f] = struct{}{}
	}
	for _, f := range features {
		set[f] = struct{}{}
	}
	ret := t
	ret.Features = make([]Feature, 0, len(set))
	for f := range set {
		ret.Features = append(ret.Features, f)
	}
	sort.Slice(ret.Features, func(i, j int) bool { return ret.Features[i] < ret.Features[j] })
	return ret
}

// Has returns true if t has the feature f.
func (t Target) Has(f Feature) bool {
	for _, have := range t.Features {
		if have == f {
			return true
		}
	}
	return false
}

// Equal returns true if both targets have the same string form.
func (t Target) Equal(o Target) bool {
	return t.String() == o.String()
}

// GOARCH returns the Go architecture name of t, or "" if there is none.
func (t Target) GOARCH() string {
	switch {
	case t.Arch == "x86" && t.Bits == 64:
		return "amd64"
	case t.Arch == "x86" && t.Bits == 32:
		return "386"
	case t.Arch == "arm" && t.Bits == 64:
		return "arm64"
	case t.Arch == "arm" && t.Bits == 32:
		return "arm"
	}
	return ""
}

// String implements fmt.Stringer.
func (t Target) String() string {
	parts := []string{t.Arch, fmt.Sprint(t.Bits), t.OS}
	for _, f := range t.With().Features {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, "-")
}
