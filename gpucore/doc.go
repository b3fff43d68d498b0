// Package gpucore provides the device abstraction shared by the sandbox
// water simulation, its elevation and property providers, and the backends
// that execute them.
//
// A [Device] owns 2D float textures and compute programs. A program pairs a
// WGSL compute shader (run by hardware devices) with a CPU reference
// [Kernel] (run by the software device), so the same pass sequence produces
// the same grids on either backend.
//
// # Architecture
//
//	              +-------------------+
//	              |   sandbox solver  |
//	              |  (pass sequence)  |
//	              +---------+---------+
//	                        |
//	              +---------v---------+
//	              |      gpucore      |
//	              |  Device, Pass,    |
//	              |  TextureUnits,    |
//	              |  BufferedTexture  |
//	              +---------+---------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  internal/soft  |          |  internal/gpu   |
//	|  (CPU kernels)  |          |  (wgpu/hal)     |
//	+-----------------+          +-----------------+
//
// # Passes
//
// Every simulation step is a sequence of [Pass] values. A pass reads the
// textures bound to the listed texture units and writes one or more target
// textures. A pass never reads a texture it writes; devices reject such a
// pass with [ErrAliasedTarget]. Multi-buffered values ([BufferedTexture])
// alternate between slots so that the previous result stays readable while
// the next one is produced.
//
// # Resource Management
//
// Textures and programs are addressed by opaque IDs ([TextureID],
// [ProgramID]). Resources belonging to one device are never shared with
// another; [Resources] keeps one lazily created bundle per device.
package gpucore
