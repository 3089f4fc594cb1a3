// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpdn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curioloop/pareto/gauge"
)

func TestDualRequiresGradient(t *testing.T) {

	kappa := gauge.OneNorm()
	ctx := &evalCtx{b: []float64{1}, r: []float64{1}, atr: []float64{1}}

	_, ok := dualObjective(ctx, kappa.Polar, one)
	require.False(t, ok)
	_, ok = gapValue(ctx, kappa.Polar, one)
	require.False(t, ok)

	ctx.hasGrad = true
	_, ok = dualObjective(ctx, kappa.Polar, one)
	require.True(t, ok)
	_, ok = gapValue(ctx, kappa.Polar, one)
	require.True(t, ok)
}

func TestDualGapConsistency(t *testing.T) {

	a := testMeter(t, 2, 3, []float64{
		1, -1, 2,
		3, 0, -2,
	})
	kappa := gauge.OneNorm()
	ctx := &evalCtx{
		b:   []float64{1, -2},
		r:   make([]float64, 2),
		atr: make([]float64, 3),
		tau: 0.7,
	}

	x := []float64{0.3, -0.2, 0.2}
	g := make([]float64, 3)
	require.NoError(t, lsqObjective(x, g, a, ctx))

	d, ok := dualObjective(ctx, kappa.Polar, one)
	require.True(t, ok)
	gap, ok := gapValue(ctx, kappa.Polar, one)
	require.True(t, ok)

	// Weak duality: the lower bound never exceeds the primal value,
	// and the normalized gap is their scaled difference.
	require.LessOrEqual(t, math.Max(zero, d), ctx.f+1e-12)
	require.GreaterOrEqual(t, gap, zero)
	require.InDelta(t, (ctx.f-d)/math.Max(one, ctx.f), gap, 1e-12)
}

func TestDualAtOptimum(t *testing.T) {

	// At the constrained minimizer of ½‖b-x‖² over ‖x‖₁ ≤ τ the gap
	// vanishes and the dual value matches the primal one.
	a := testMeter(t, 3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	kappa := gauge.OneNorm()
	b := []float64{3, 1, -2}
	const tau = 2.0

	x := append([]float64(nil), b...)
	kappa.Project(x, tau)

	ctx := &evalCtx{b: b, r: make([]float64, 3), atr: make([]float64, 3), tau: tau}
	g := make([]float64, 3)
	require.NoError(t, lsqObjective(x, g, a, ctx))

	d, ok := dualObjective(ctx, kappa.Polar, one)
	require.True(t, ok)
	gap, ok := gapValue(ctx, kappa.Polar, one)
	require.True(t, ok)

	require.InDelta(t, ctx.f, d, 1e-12)
	require.InDelta(t, zero, gap, 1e-12)
}
