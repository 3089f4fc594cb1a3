// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpdn

// The Pareto curve 𝒇(τ) is non-increasing, so every update rule divides
// by a negative slope estimate. The very first iteration of all three
// rules is a Newton step: the secant rules need one completed iteration
// before a finite difference exists.

// newtonTau performs the Newton update τ ← τ - (𝒇-σ)/g with the true
// generalized slope g = -κ*(𝐀ᵀr).
func newtonTau(tau, f, sigma, g float64) float64 {
	if !(g < zero) {
		panic("pareto slope must be negative")
	}
	return tau - (f-sigma)/g
}

// secantTau estimates the slope from finite differences of the (τ, 𝒇)
// history and updates τ ← τ - (𝒇ₖ-σ)/slope. No gradient re-evaluation is
// needed once the history holds two points.
func secantTau(tau, f, sigma, tauOld, fOld float64) (next, slope float64) {
	slope = (f - fOld) / (tau - tauOld)
	if !(slope < zero) {
		panic("pareto slope must be negative")
	}
	return tau - (f-sigma)/slope, slope
}

// isecantTau is the inexact-secant update: the slope mixes the current
// dual value with the previous primal value,
//
//	slope = (𝒅ₖ - 𝒇ₖ₋₁) / (τₖ - τₖ₋₁),  step = -(𝒅ₖ - σ)/slope
//
// which is what lets the inner solve stop early on a dual certificate.
// The asymmetry is intentional; do not symmetrize it. A non-positive
// step means the dual certificate contradicts the model and the solve
// must fail loudly instead of producing a nonsense τ sequence.
func isecantTau(tau, dual, sigma, tauOld, fOld float64) (next, slope float64) {
	slope = (dual - fOld) / (tau - tauOld)
	step := -(dual - sigma) / slope
	if !(step > zero) {
		panic("pareto step must be positive")
	}
	return tau + step, slope
}
