// Package glsllib contains the GLSL sources of the flattened scene evaluator.
// Function names are prefixed with "flat" to avoid collisions with user code.
package glsllib

import (
	_ "embed"
)

//go:embed box.glsl
var boxSrc []byte

// Box is the SDF of an axis aligned box given by its corners:
//
//	float flatBox(vec3 p, vec3 bmin, vec3 bmax)
func Box() []byte { return boxSrc }

//go:embed sphere.glsl
var sphereSrc []byte

// Sphere is the SDF of a sphere:
//
//	float flatSphere(vec3 p, vec3 c, float r)
func Sphere() []byte { return sphereSrc }

//go:embed cylinder.glsl
var cylinderSrc []byte

// Cylinder is the exact SDF of a capped cylinder with arbitrary axis a-b:
//
//	float flatCylinder(vec3 p, vec3 a, vec3 b, float r)
func Cylinder() []byte { return cylinderSrc }

//go:embed halfspace.glsl
var halfspaceSrc []byte

// HalfSpace is the SDF of a half-space with unit normal n:
//
//	float flatHalfSpace(vec3 p, vec3 o, vec3 n)
func HalfSpace() []byte { return halfspaceSrc }

//go:embed gyroid.glsl
var gyroidSrc []byte

//	float flatGyroid(vec3 p, float scale, float thick)
func Gyroid() []byte { return gyroidSrc }

//go:embed schwarz.glsl
var schwarzSrc []byte

//	float flatSchwarz(vec3 p, float scale, float thick)
func Schwarz() []byte { return schwarzSrc }

//go:embed stackmachine.glsl
var stackMachineSrc []byte

// StackMachine executes the scene program at a point. Requires the primitive functions,
// the FLAT_ kind and operator defines, FLAT_MAXDEPTH and the scene buffers to be declared:
//
//	float flatEval(vec3 p)
func StackMachine() []byte { return stackMachineSrc }

//go:embed trace.glsl
var traceSrc []byte

// Trace sphere traces a ray and returns a packed 0xAABBGGRR color. Requires [StackMachine] and the
// FLAT_ tracer defines:
//
//	uint flatTrace(vec3 pt, vec3 dir)
func Trace() []byte { return traceSrc }

// Primitives returns the sources of all primitive SDF functions.
func Primitives() [][]byte {
	return [][]byte{boxSrc, sphereSrc, cylinderSrc, halfspaceSrc, gyroidSrc, schwarzSrc}
}
