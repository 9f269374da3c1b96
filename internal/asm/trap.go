// Package asm assembles the few machine instructions the image layout needs.
//
// Note: we use golang-asm (github.com/twitchyliquid64/golang-asm) as the assembler, so the instructions are named
// as in Go assembly, e.g. obj.AUNDEF is UD2 on amd64.
package asm

import (
	"errors"
	"fmt"
	"sync"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
)

// ErrUnsupportedArch is returned by TrapStub for an architecture without a known trap encoding.
var ErrUnsupportedArch = errors.New("unsupported architecture")

var (
	stubsMu sync.Mutex
	stubs   = map[string][]byte{}
)

// TrapStub returns the encoding of one instruction that raises an illegal-instruction fault on arch, which is a
// GOARCH value. The result is cached and must not be modified.
func TrapStub(arch string) ([]byte, error) {
	stubsMu.Lock()
	defer stubsMu.Unlock()

	if code, ok := stubs[arch]; ok {
		return code, nil
	}
	switch arch {
	case "amd64", "arm64":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
	}

	b, err := goasm.NewBuilder(arch, 16)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	prog := b.NewProg()
	prog.As = obj.AUNDEF
	b.AddInstruction(prog)

	code := b.Assemble()
	if len(code) == 0 {
		return nil, fmt.Errorf("assembling trap for %s produced no code", arch)
	}
	stubs[arch] = code
	return code, nil
}

// FillTrap repeats the trap stub of arch over text. Bytes that do not fit a whole stub are left untouched. When arch
// has no trap encoding, text is left as is and the error is returned.
func FillTrap(arch string, text []byte) error {
	stub, err := TrapStub(arch)
	if err != nil {
		return err
	}
	for i := 0; i+len(stub) <= len(text); i += len(stub) {
		copy(text[i:], stub)
	}
	return nil
}
