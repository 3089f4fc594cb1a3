// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linop provides the two-mode linear operator abstraction used by
// the basis-pursuit solvers: an explicit matrix or a pair of user closures,
// uniformly exposed as forward (𝐀𝐱) and adjoint (𝐀ᵀ𝐱) products.
package linop

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Mode selects the direction of an operator product.
type Mode int

const (
	// Forward computes 𝐲 = 𝐀𝐱 with 𝐱 ∈ ℝⁿ and 𝐲 ∈ ℝᵐ.
	Forward Mode = iota
	// Adjoint computes 𝐲 = 𝐀ᵀ𝐱 with 𝐱 ∈ ℝᵐ and 𝐲 ∈ ℝⁿ.
	Adjoint
)

// ErrMatvecLimit reports that the configured product budget is exhausted.
// It is returned by Meter.Apply before the product is performed, so the
// caller never pays for a product it is not allowed to count.
var ErrMatvecLimit = errors.New("linop: matvec budget exhausted")

// Operator is a linear map ℝⁿ → ℝᵐ exposed through its two products.
// Implementations must not retain dst or x across calls.
type Operator interface {
	// Dims returns the row and column counts (m, n) of the map.
	Dims() (m, n int)
	// Apply stores 𝐀𝐱 into dst. len(x) = n, len(dst) = m.
	Apply(dst, x []float64)
	// ApplyAdjoint stores 𝐀ᵀ𝐱 into dst. len(x) = m, len(dst) = n.
	ApplyAdjoint(dst, x []float64)
}

// Dense adapts an explicit matrix to the Operator interface.
type Dense struct {
	a *mat.Dense
}

// NewDense wraps a dense matrix. The matrix is referenced, not copied.
func NewDense(a *mat.Dense) *Dense {
	return &Dense{a: a}
}

// Dims returns the matrix dimensions.
func (d *Dense) Dims() (m, n int) { return d.a.Dims() }

// Apply stores 𝐀𝐱 into dst.
func (d *Dense) Apply(dst, x []float64) {
	m, n := d.a.Dims()
	if len(x) != n || len(dst) != m {
		panic("linop: forward product dimension not match")
	}
	v := mat.NewVecDense(m, dst)
	v.MulVec(d.a, mat.NewVecDense(n, x))
}

// ApplyAdjoint stores 𝐀ᵀ𝐱 into dst.
func (d *Dense) ApplyAdjoint(dst, x []float64) {
	m, n := d.a.Dims()
	if len(x) != m || len(dst) != n {
		panic("linop: adjoint product dimension not match")
	}
	v := mat.NewVecDense(n, dst)
	v.MulVec(d.a.T(), mat.NewVecDense(m, x))
}

// Func adapts a pair of black-box product closures to the Operator
// interface, for maps with no explicit matrix representation.
type Func struct {
	m, n int
	fwd  func(dst, x []float64)
	adj  func(dst, x []float64)
}

// NewFunc wraps two product closures with the given dimensions.
func NewFunc(m, n int, fwd, adj func(dst, x []float64)) *Func {
	if m <= 0 || n <= 0 {
		panic("linop: operator dimension must greater than 0")
	}
	if fwd == nil || adj == nil {
		panic("linop: both products are required")
	}
	return &Func{m: m, n: n, fwd: fwd, adj: adj}
}

// Dims returns the operator dimensions.
func (f *Func) Dims() (m, n int) { return f.m, f.n }

// Apply stores 𝐀𝐱 into dst.
func (f *Func) Apply(dst, x []float64) {
	if len(x) != f.n || len(dst) != f.m {
		panic("linop: forward product dimension not match")
	}
	f.fwd(dst, x)
}

// ApplyAdjoint stores 𝐀ᵀ𝐱 into dst.
func (f *Func) ApplyAdjoint(dst, x []float64) {
	if len(x) != f.m || len(dst) != f.n {
		panic("linop: adjoint product dimension not match")
	}
	f.adj(dst, x)
}
