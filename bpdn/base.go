// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bpdn solves the generalized basis-pursuit-denoise family of
// convex problems
//
//	minimize κ(x)  subject to ‖𝐀x - b‖ ≤ σ
//	minimize ‖𝐀x - b‖  subject to κ(x) ≤ τ
//
// through Pareto root finding: an outer loop drives the gauge budget τ
// toward the value where the Pareto curve 𝒇(τ) = 𝚖𝚒𝚗 ½‖𝐀x-b‖² over
// κ(x) ≤ τ crosses σ, evaluating 𝒇 with an inexact, budget-limited inner
// projected solver. A Huber penalty may replace the least-squares
// residual for robust regression.
package bpdn

import (
	"fmt"
	"io"
)

const (
	zero = 0.0
	one  = 1.0
	half = 0.5
)

// Status is the terminal state of one solve. It is set exactly once.
type Status int

const (
	// StatUnknown the solve has not reached a terminal state.
	StatUnknown Status = iota
	// Optimal the Pareto curve value matched σ within tolerance,
	// or the single fixed-τ solve finished.
	Optimal
	// OverIterLimit the outer iteration count reached its limit.
	OverIterLimit
	// OverMatvecLimit the operator product budget is exhausted.
	OverMatvecLimit
	// OverTimeLimit the wall-clock runtime budget is exhausted.
	OverTimeLimit
	// HaltInnerError the inner solver failed; see StatusMsg.
	HaltInnerError
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "CONVERGENCE: PARETO CURVE VALUE REACHED SIGMA"
	case OverIterLimit:
		return "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	case OverMatvecLimit:
		return "STOP: TOTAL NO. of MATRIX PRODUCTS REACHED LIMIT"
	case OverTimeLimit:
		return "STOP: RUNTIME EXCEEDING THE TIME LIMIT"
	case HaltInnerError:
		return "STOP: INNER SOLVER FAILED"
	}
	return "UNKNOWN TASK"
}

// Solver selects the inner convex solver variant.
type Solver int

const (
	// SolverSPG spectral projected gradient.
	SolverSPG Solver = iota
	// SolverPQN projected quasi-Newton.
	SolverPQN
)

// RootFinder selects the τ update rule of the outer loop.
type RootFinder int

const (
	// FindNewton re-evaluates the slope -κ*(𝐀ᵀr) every iteration.
	FindNewton RootFinder = iota
	// FindSecant uses finite differences of the (τ, 𝒇) history.
	FindSecant
	// FindISecant uses the dual objective history and allows the
	// inner solve to terminate early on a dual certificate.
	FindISecant
)

// Penalty selects the primal loss on the residual.
type Penalty int

const (
	// PenaltyLSQ the least-squares loss ½‖r‖².
	PenaltyLSQ Penalty = iota
	// PenaltyHuber the Huber loss with threshold M.
	PenaltyHuber
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated
	LogNoop LogLevel = 0
	// LogIter print the init banner, one line per outer iteration and the exit summary
	LogIter LogLevel = 1
	// LogInner print also the inner solver trace
	LogInner LogLevel = 2
)

// Logger handles logging output for the solver.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// evalCtx is the shared evaluation context threaded through one inner
// solve: the objective evaluator refreshes it at every evaluation and the
// stopping callbacks and dual/gap formulas read it back. It is owned by a
// single solve invocation and refreshed once per outer iteration.
type evalCtx struct {
	b []float64
	// The current residual, or its Huber-transformed counterpart
	// y = M·𝚌𝚕𝚒𝚙((b-𝐀x)/M, ±1) under the Huber penalty.
	r []float64
	// The gradient context 𝐀ᵀr. Valid only while hasGrad is set: value-only
	// probes leave the slice stale and the dual/gap formulas must refuse it.
	atr     []float64
	hasGrad bool
	// The current objective value.
	f float64
	// The gauge budget of the current inner solve.
	tau float64
	// The residual target, NaN when solving at fixed τ.
	sigma float64
	// The relative duality-gap target of the current inner solve.
	gapTol float64
	// The budget and objective of the previous outer iteration.
	tauOld, fOld float64
}
