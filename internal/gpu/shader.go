//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// compileWGSL translates WGSL to SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	b, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, fmt.Errorf("naga produced %d bytes, not a word stream", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("naga output starts with %#08x, not SPIR-V", words[0])
	}
	return words, nil
}

// shaderSource prefers SPIR-V and hands WGSL to the backend when naga
// cannot translate the program.
func shaderSource(label, src string) hal.ShaderSource {
	words, err := compileWGSL(src)
	if err != nil {
		slogger().Debug("gpu: naga fallback to WGSL", "program", label, "err", err)
		return hal.ShaderSource{WGSL: src}
	}
	return hal.ShaderSource{SPIRV: words}
}
