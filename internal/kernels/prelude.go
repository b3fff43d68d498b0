package kernels

import (
	"fmt"
	"strings"
)

// Binding layout shared by every program:
//
//	binding 0            params: array<f32>
//	binding 1            dims: array<vec4<u32>>
//	                       dims[0]   = region origin and size
//	                       dims[1]   = target width, height, blend (1 = add)
//	                       dims[2+i] = input i width, height, linear (1 = yes)
//	binding 2 + i        input i: array<vec4<f32>>, read
//	binding 2 + in + j   target j: array<vec4<f32>>, read_write
//
// Inputs and targets store four channels per texel, row-major.
const (
	// MaxInputs is the largest number of inputs any program samples.
	MaxInputs = 5

	// MaxOutputs is the largest number of targets any program writes.
	MaxOutputs = 2

	// WorkgroupSize is the edge length of the square compute workgroup.
	WorkgroupSize = 8
)

const preludeHeader = `@group(0) @binding(0) var<storage, read> params: array<f32>;
@group(0) @binding(1) var<storage, read> dims: array<vec4<u32>>;
`

const preludeMain = `
@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let r = dims[0];
    if (gid.x >= r.z || gid.y >= r.w) {
        return;
    }
    kernel(i32(r.x + gid.x), i32(r.y + gid.y));
}
`

const inputTemplate = `@group(0) @binding(%[2]d) var<storage, read> in%[1]d: array<vec4<f32>>;

fn fetch%[1]d(x: i32, y: i32) -> vec4<f32> {
    let d = dims[%[3]du];
    let cx = clamp(x, 0, i32(d.x) - 1);
    let cy = clamp(y, 0, i32(d.y) - 1);
    return in%[1]d[u32(cy) * d.x + u32(cx)];
}

fn sample%[1]d(u: f32, v: f32) -> vec4<f32> {
    if (dims[%[3]du].z == 0u) {
        return fetch%[1]d(i32(floor(u)), i32(floor(v)));
    }
    let fu = u - 0.5;
    let fv = v - 0.5;
    let x0 = floor(fu);
    let y0 = floor(fv);
    let tx = fu - x0;
    let ty = fv - y0;
    let ix = i32(x0);
    let iy = i32(y0);
    let top = mix(fetch%[1]d(ix, iy), fetch%[1]d(ix + 1, iy), tx);
    let bottom = mix(fetch%[1]d(ix, iy + 1), fetch%[1]d(ix + 1, iy + 1), tx);
    return mix(top, bottom, ty);
}
`

const inputStub = `
fn fetch%[1]d(x: i32, y: i32) -> vec4<f32> {
    return vec4<f32>(0.0);
}

fn sample%[1]d(u: f32, v: f32) -> vec4<f32> {
    return vec4<f32>(0.0);
}
`

const cornerMeanTemplate = `
fn corner_mean%[1]d(x: i32, y: i32) -> f32 {
    return 0.25 * (fetch%[1]d(x - 1, y - 1).x + fetch%[1]d(x, y - 1).x + fetch%[1]d(x - 1, y).x + fetch%[1]d(x, y).x);
}
`

const outputTemplate = `@group(0) @binding(%[2]d) var<storage, read_write> out%[1]d: array<vec4<f32>>;

fn store%[1]d(x: i32, y: i32, v: vec4<f32>) {
    let o = dims[1];
    let i = u32(y) * o.x + u32(x);
    if (o.z == 1u) {
        out%[1]d[i] = out%[1]d[i] + v;
    } else {
        out%[1]d[i] = v;
    }
}
`

const outputStub = `
fn store%[1]d(x: i32, y: i32, v: vec4<f32>) {
}
`

// prelude returns the bindings and accessors for a program with the given
// number of inputs and outputs. Accessors beyond those counts are stubs so
// that one shader body can serve several program variants.
func prelude(inputs, outputs int) string {
	var b strings.Builder
	b.WriteString(preludeHeader)
	for i := range MaxInputs {
		if i < inputs {
			fmt.Fprintf(&b, inputTemplate, i, 2+i, 2+i)
		} else {
			fmt.Fprintf(&b, inputStub, i)
		}
		fmt.Fprintf(&b, cornerMeanTemplate, i)
	}
	for j := range MaxOutputs {
		if j < outputs {
			fmt.Fprintf(&b, outputTemplate, j, 2+inputs+j)
		} else {
			fmt.Fprintf(&b, outputStub, j)
		}
	}
	b.WriteString(preludeMain)
	return b.String()
}

// common holds the numerical helpers shared by the solver shaders. They
// mirror flux.go and integrate.go.
const common = `
fn minmod(a: f32, b: f32, c: f32) -> f32 {
    if (a > 0.0 && b > 0.0 && c > 0.0) {
        return min(a, min(b, c));
    }
    if (a < 0.0 && b < 0.0 && c < 0.0) {
        return max(a, max(b, c));
    }
    return 0.0;
}

fn desingularize(h: f32, q: f32, eps4: f32) -> f32 {
    let h4 = h * h * h * h;
    return 1.41421356 * h * q / sqrt(h4 + max(h4, eps4));
}

fn dry(q: vec3<f32>, bc: f32) -> vec4<f32> {
    if (q.x <= bc) {
        return vec4<f32>(bc, 0.0, 0.0, 0.0);
    }
    return vec4<f32>(q, 0.0);
}
`
