package main

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/jitrt/jitrt"
)

// fileConfig is the structure of the file passed with -config. Every attribute is optional.
//
// Ex.
//
//	target      = "${host}-device_emu"
//	num_threads = 4
//	log_level   = "debug"
//
//	selftest {
//	  width  = 64
//	  height = 48
//	  amount = 16
//	}
type fileConfig struct {
	Target     *string         `hcl:"target,optional"`
	NumThreads *int            `hcl:"num_threads,optional"`
	LogLevel   *string         `hcl:"log_level,optional"`
	LogFormat  *string         `hcl:"log_format,optional"`
	Selftest   *selftestConfig `hcl:"selftest,block"`
}

type selftestConfig struct {
	Width  *int `hcl:"width,optional"`
	Height *int `hcl:"height,optional"`
	Amount *int `hcl:"amount,optional"`
}

// settings are the resolved options of the selftest command.
type settings struct {
	target     *jitrt.Target
	numThreads *int
	logLevel   string
	logFormat  string
	width      int32
	height     int32
	amount     uint8
}

func defaultSettings() *settings {
	return &settings{logLevel: "warn", logFormat: "text", width: 32, height: 16, amount: 10}
}

// evalContext exposes the variable "host", the string form of jitrt.HostTarget.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"host": cty.StringVal(jitrt.HostTarget().String()),
		},
	}
}

// loadConfig applies the file at path to s.
func loadConfig(path string, s *settings) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var parsed fileConfig
	if diags = gohcl.DecodeBody(file.Body, evalContext(), &parsed); diags.HasErrors() {
		return fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	if parsed.Target != nil {
		t, err := jitrt.ParseTarget(*parsed.Target)
		if err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		s.target = &t
	}
	if parsed.NumThreads != nil {
		s.numThreads = parsed.NumThreads
	}
	if parsed.LogLevel != nil {
		s.logLevel = *parsed.LogLevel
	}
	if parsed.LogFormat != nil {
		s.logFormat = *parsed.LogFormat
	}
	if st := parsed.Selftest; st != nil {
		if st.Width != nil {
			width, err := imageSide(path, "width", *st.Width)
			if err != nil {
				return err
			}
			s.width = width
		}
		if st.Height != nil {
			height, err := imageSide(path, "height", *st.Height)
			if err != nil {
				return err
			}
			s.height = height
		}
		if pixels := int64(s.width) * int64(s.height); pixels > maxSelftestPixels {
			return fmt.Errorf("config file %s: selftest image of %dx%d pixels is larger than %d pixels",
				path, s.width, s.height, maxSelftestPixels)
		}
		if st.Amount != nil {
			if *st.Amount < 0 || *st.Amount > 255 {
				return fmt.Errorf("config file %s: amount must be in [0, 255], but was %d", path, *st.Amount)
			}
			s.amount = uint8(*st.Amount)
		}
	}
	return nil
}

// maxSelftestPixels bounds the selftest image, whose size in bytes is an int32.
const maxSelftestPixels = 1 << 24

func imageSide(path, name string, v int) (int32, error) {
	if v < 1 {
		return 0, fmt.Errorf("config file %s: %s must be positive, but was %d", path, name, v)
	}
	if v > maxSelftestPixels {
		return 0, fmt.Errorf("config file %s: %s must be at most %d, but was %d", path, name, maxSelftestPixels, v)
	}
	return int32(v), nil
}
