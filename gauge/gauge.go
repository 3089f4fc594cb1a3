// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gauge supplies the gauge oracle consumed by the Pareto
// root-finding solver: the gauge κ, its polar κ*, and the Euclidean
// projection onto the ball κ(x) ≤ τ. The default triple is the one-norm
// gauge with the infinity-norm polar.
package gauge

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Gauge bundles the three oracle functions for one gauge κ.
// The triple must be consistent: Polar is the polar gauge of Eval and
// Project is the Euclidean projection onto {x : Eval(x) ≤ τ}.
type Gauge struct {
	// Eval computes κ(x).
	Eval func(x []float64) float64
	// Polar computes the polar gauge κ*(x).
	Polar func(x []float64) float64
	// Project replaces x with its Euclidean projection onto κ(x) ≤ τ.
	Project func(x []float64, tau float64)
}

// Complete reports whether all three oracle functions are present.
func (g *Gauge) Complete() bool {
	return g.Eval != nil && g.Polar != nil && g.Project != nil
}

// Empty reports whether none of the oracle functions are present.
func (g *Gauge) Empty() bool {
	return g.Eval == nil && g.Polar == nil && g.Project == nil
}

// OneNorm returns the default gauge triple:
// κ(x) = ‖x‖₁, κ*(x) = ‖x‖∞, and projection onto the ℓ₁ ball of radius τ.
func OneNorm() Gauge {
	return Gauge{
		Eval:    func(x []float64) float64 { return floats.Norm(x, 1) },
		Polar:   func(x []float64) float64 { return floats.Norm(x, math.Inf(1)) },
		Project: ProjectOneNorm,
	}
}

// Weighted returns the gauge triple for κ(x) = Σ wᵢ|xᵢ| with strictly
// positive weights: the polar is 𝚖𝚊𝚡ᵢ |xᵢ|/wᵢ and the projection reduces
// to the one-norm case through the change of variable zᵢ = wᵢxᵢ. The
// projection is exact in the w-scaled metric, which keeps the iterates
// feasible for the weighted ball.
func Weighted(w []float64) Gauge {
	for _, wi := range w {
		if !(wi > 0) {
			panic("gauge: weights must be positive")
		}
	}
	return Gauge{
		Eval: func(x []float64) float64 {
			s := 0.0
			for i, v := range x {
				s += w[i] * math.Abs(v)
			}
			return s
		},
		Polar: func(x []float64) float64 {
			p := 0.0
			for i, v := range x {
				p = math.Max(p, math.Abs(v)/w[i])
			}
			return p
		},
		Project: func(x []float64, tau float64) {
			z := make([]float64, len(x))
			for i, v := range x {
				z[i] = w[i] * v
			}
			ProjectOneNorm(z, tau)
			for i := range x {
				x[i] = z[i] / w[i]
			}
		},
	}
}

// ProjectOneNorm replaces x with its Euclidean projection onto the ℓ₁
// ball of radius τ, using the sort-and-threshold soft-thresholding rule:
// the projection is 𝚜𝚒𝚐𝚗(xᵢ)·𝚖𝚊𝚡(|xᵢ|-λ, 0) where λ solves
// Σ 𝚖𝚊𝚡(|xᵢ|-λ, 0) = τ whenever ‖x‖₁ > τ.
func ProjectOneNorm(x []float64, tau float64) {
	if tau <= 0 {
		for i := range x {
			x[i] = 0
		}
		return
	}
	if floats.Norm(x, 1) <= tau {
		return
	}

	// Find the threshold from the sorted magnitudes.
	mag := make([]float64, len(x))
	for i, v := range x {
		mag[i] = math.Abs(v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(mag)))

	var lambda, csum float64
	for k, v := range mag {
		csum += v
		if t := (csum - tau) / float64(k+1); t >= v {
			break
		} else {
			lambda = t
		}
	}

	for i, v := range x {
		s := math.Abs(v) - lambda
		if s <= 0 {
			x[i] = 0
		} else if v < 0 {
			x[i] = -s
		} else {
			x[i] = s
		}
	}
}
