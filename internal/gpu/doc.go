//go:build !nogpu

// Package gpu implements gpucore.Device on wgpu/hal.
//
// Textures live in storage buffers holding four float32 channels per
// texel, row-major, so every program addresses its inputs and targets the
// same way the software device does. Programs are WGSL compute shaders
// compiled to SPIR-V with naga; each one owns a bind group layout sized
// for its inputs and targets (see package kernels for the layout).
//
// Dispatch encodes one compute pass, submits it and waits for the queue
// to drain before returning, which keeps the pass ordering of the solver
// without per-pass fences. Readback copies into a mappable staging buffer.
//
// The package is excluded by the nogpu build tag.
package gpu
