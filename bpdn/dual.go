// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpdn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// dualObjective computes the dual objective lower bound
//
//	bᵀr/M - ½‖r‖² - τ·κ*(𝐀ᵀr)
//
// from the shared context, with M = 1 under the least-squares loss and r
// the transformed residual under the Huber loss. The second return is
// false while the gradient context 𝐀ᵀr has not been computed for the
// current iterate; the value is meaningless then and must not be used.
func dualObjective(ctx *evalCtx, polar func([]float64) float64, m float64) (float64, bool) {
	if !ctx.hasGrad {
		return 0, false
	}
	d := floats.Dot(ctx.b, ctx.r)/m -
		half*floats.Dot(ctx.r, ctx.r) -
		ctx.tau*polar(ctx.atr)
	return d, true
}

// gapValue computes the normalized primal-dual gap
//
//	| rᵀ(r - b/M) + τ·κ*(𝐀ᵀr) | / 𝚖𝚊𝚡(1, 𝒇)
//
// used as the inner solver's early-stop signal and the outer loop's
// progress metric. Like dualObjective it reports false while the gradient
// context is not populated.
func gapValue(ctx *evalCtx, polar func([]float64) float64, m float64) (float64, bool) {
	if !ctx.hasGrad {
		return 0, false
	}
	num := floats.Dot(ctx.r, ctx.r) -
		floats.Dot(ctx.r, ctx.b)/m +
		ctx.tau*polar(ctx.atr)
	return math.Abs(num) / math.Max(one, ctx.f), true
}
