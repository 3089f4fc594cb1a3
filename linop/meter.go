// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linop

import "time"

// Meter wraps an Operator with product accounting and an optional global
// budget over forward+adjoint applications. One Meter belongs to exactly
// one solve invocation; its counters are not synchronized.
type Meter struct {
	op    Operator
	limit int

	// Number of forward and adjoint products performed.
	NumForward, NumAdjoint int
	// Nanoseconds spent inside operator products.
	ProductTime int64
}

// NewMeter wraps op, capping forward+adjoint products at limit.
// A limit ≤ 0 means unlimited.
func NewMeter(op Operator, limit int) *Meter {
	return &Meter{op: op, limit: limit}
}

// Dims returns the wrapped operator dimensions.
func (c *Meter) Dims() (m, n int) { return c.op.Dims() }

// Products returns the cumulative number of products in both modes.
func (c *Meter) Products() int { return c.NumForward + c.NumAdjoint }

// Apply performs one product in the given mode, storing the result in dst.
// The budget is checked before the product: once forward+adjoint counts
// reach the limit, every further call fails with ErrMatvecLimit and the
// wrapped operator is not touched.
func (c *Meter) Apply(dst, x []float64, mode Mode) error {
	if c.limit > 0 && c.NumForward+c.NumAdjoint >= c.limit {
		return ErrMatvecLimit
	}
	start := time.Now()
	switch mode {
	case Forward:
		c.op.Apply(dst, x)
		c.NumForward++
	case Adjoint:
		c.op.ApplyAdjoint(dst, x)
		c.NumAdjoint++
	default:
		panic("linop: unknown product mode")
	}
	c.ProductTime += time.Since(start).Nanoseconds()
	return nil
}
