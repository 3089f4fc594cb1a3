// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpdn

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/curioloop/pareto/linop"
)

// objective evaluates one primal loss at x, refreshing the shared context:
// ctx.f and ctx.r always, ctx.atr only when grad is non-nil. A nil grad is
// a value-only probe and invalidates the gradient context.
type objective func(x, grad []float64, a *linop.Meter, ctx *evalCtx) error

// lsqObjective computes the least-squares loss
//
//	𝒇 = ½‖r‖²  with r = b - 𝐀x
//
// and, when requested, the descent gradient -𝐀ᵀr.
func lsqObjective(x, grad []float64, a *linop.Meter, ctx *evalCtx) error {

	if err := a.Apply(ctx.r, x, linop.Forward); err != nil {
		return err
	}
	for i, b := range ctx.b {
		ctx.r[i] = b - ctx.r[i]
	}
	ctx.f = half * floats.Dot(ctx.r, ctx.r)
	ctx.hasGrad = false

	if grad != nil {
		if err := a.Apply(ctx.atr, ctx.r, linop.Adjoint); err != nil {
			return err
		}
		ctx.hasGrad = true
		for i, v := range ctx.atr {
			grad[i] = -v
		}
	}
	return nil
}

// huberObjective returns the evaluator of the Huber loss with threshold M:
// with the scaled residual u = (b - 𝐀x)/M,
//
//	𝒇 = M·Σ h(uᵢ),  h(u) = ½u²   for |u| ≤ 1
//	                h(u) = |u|-½ otherwise
//
// The transformed residual y = M·𝚌𝚕𝚒𝚙(u, ±1) replaces r in the shared
// context, so the dual and gap formulas see the clipped quantity. The
// breakpoint sits exactly at |u| = 1: that is the threshold M encodes.
// When requested, the gradient context is 𝐀ᵀy and the descent gradient
// is -𝐀ᵀy/M.
func huberObjective(m float64) objective {
	return func(x, grad []float64, a *linop.Meter, ctx *evalCtx) error {

		if err := a.Apply(ctx.r, x, linop.Forward); err != nil {
			return err
		}

		sum := zero
		for i, b := range ctx.b {
			u := (b - ctx.r[i]) / m
			if au := math.Abs(u); au <= one {
				sum += half * u * u
			} else {
				sum += au - half
				u = math.Copysign(one, u)
			}
			ctx.r[i] = m * u
		}
		ctx.f = m * sum
		ctx.hasGrad = false

		if grad != nil {
			if err := a.Apply(ctx.atr, ctx.r, linop.Adjoint); err != nil {
				return err
			}
			ctx.hasGrad = true
			for i, v := range ctx.atr {
				grad[i] = -v / m
			}
		}
		return nil
	}
}
