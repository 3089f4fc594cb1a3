// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spg implements a nonmonotone spectral projected gradient method
// for minimizing a smooth objective over a convex set given through its
// Euclidean projection. It is one of the two interchangeable inner solvers
// of the Pareto root-finding engine.
package spg

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Status is the final task status of one minimization.
type Status int

const (
	// Converged the halt callback accepted the current iterate.
	Converged Status = iota
	// SmallStep the projected gradient step fell below tolerance.
	SmallStep
	// OverIterLimit the iteration count reached its limit.
	OverIterLimit
	// HaltEvalError the objective evaluation failed.
	HaltEvalError
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "CONVERGED: HALT CALLBACK SATISFIED"
	case SmallStep:
		return "CONVERGED: PROJECTED STEP SUFFICIENTLY SMALL"
	case OverIterLimit:
		return "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	case HaltEvalError:
		return "STOP: OBJECTIVE EVALUATION FAILED"
	}
	return "UNKNOWN TASK"
}

// Evaluation computes the objective value at x and, when g is non-nil,
// the gradient into g. A nil g requests the value only (line-search probes).
type Evaluation func(x, g []float64) (f float64, err error)

// Projection replaces x in place with its Euclidean projection
// onto the feasible set.
type Projection func(x []float64)

// Halt is consulted once per iteration, after a full evaluation at the
// current iterate. Returning true stops the solve with status Converged.
type Halt func(iter int) bool

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The iteration stop when the number of iteration exceeds limit.
	MaxIterations int
	// The iteration stop when ‖𝑃(x-g) - x‖∞ is not greater than tolerance.
	StepTolerance float64
}

const (
	stepMin = 1e-16
	stepMax = 1e+5
	// suffDec is the sufficient-decrease constant of the Armijo test.
	suffDec = 1e-4
	// histLen objective values kept for the nonmonotone reference.
	histLen = 10
)

// Problem specifies the problem for the SPG optimizer.
type Problem struct {
	N       int         // The problem dimension
	Eval    Evaluation  // Objective function and gradient
	Project Projection  // Euclidean projection onto the feasible set
	Stop    Termination // Stop condition
	Halt    Halt        // Optional early-stop callback
	Trace   io.Writer   // Optional per-iteration trace sink
}

// New creates a new SPG optimizer for given problem.
func (p *Problem) New() (optimizer *Optimizer, err error) {
	switch {
	case p.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.Eval == nil:
		err = errors.New("evaluation target is required")
	case p.Project == nil:
		err = errors.New("projection is required")
	case p.Stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 1")
	case p.Stop.StepTolerance < 0:
		err = errors.New("step tolerance must not less than 0")
	}
	if err != nil {
		return
	}
	optimizer = &Optimizer{spec: *p}
	return
}

// Optimizer implemented using the nonmonotone SPG algorithm.
type Optimizer struct {
	spec Problem
}

// Workspace contains the state and context of the optimization process.
// Total work space is approximately float64[4×n + 10].
type Workspace struct {
	n int
	spgCtx
}

type spgLoc struct {
	f float64
	x []float64
	g []float64
}

type spgCtx struct {
	iter int
	eval int

	alpha float64
	fHist []float64

	xNew []float64 // trial point
	gOld []float64 // gradient at the accepted point of last iteration
	s    []float64 // x - xOld
	y    []float64 // g - gOld
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	F       float64   // Final function value.
	X, G    []float64 // Final solution and gradient.
	Err     error     // Evaluation error for status HaltEvalError.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status  Status // Final task status after optimization.
	NumIter int    // Number of iterations performed.
	NumEval int    // Number of objective evaluations performed.
}

// Init allocate the workspace for the SPG optimizer.
// To avoid race conditions, separate workspaces need to be created for
// each goroutine. But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n = o.spec.N
	w.fHist = make([]float64, histLen)
	w.xNew = make([]float64, w.n)
	w.gOld = make([]float64, w.n)
	w.s = make([]float64, w.n)
	w.y = make([]float64, w.n)
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if len(x) != o.spec.N {
		panic("initial x dimension not match spec")
	}
	if w.n != o.spec.N {
		panic("workspace dimension not match spec")
	}

	loc := spgLoc{
		x: slices.Repeat(x, 1),
		g: make([]float64, len(x)),
	}

	status, err := o.mainLoop(&loc, w)
	return &Result{
		OK:  status == Converged || status == SmallStep,
		X:   loc.x, F: loc.f, G: loc.g,
		Err: err,
		Summary: Summary{
			Status:  status,
			NumIter: w.iter,
			NumEval: w.eval,
		},
	}
}

func (o *Optimizer) mainLoop(loc *spgLoc, w *Workspace) (Status, error) {

	spec := &o.spec
	ctx := &w.spgCtx

	ctx.iter, ctx.eval = 0, 0
	for i := range ctx.fHist {
		ctx.fHist[i] = math.Inf(-1)
	}

	spec.Project(loc.x)

	f, err := spec.Eval(loc.x, loc.g)
	ctx.eval++
	if err != nil {
		return HaltEvalError, err
	}
	loc.f = f
	ctx.fHist[0] = f

	// Initial spectral step from the gradient scale.
	gNorm := floats.Norm(loc.g, math.Inf(1))
	ctx.alpha = 1
	if gNorm > 0 {
		ctx.alpha = clampStep(1 / gNorm)
	}

	for {
		if spec.Halt != nil && spec.Halt(ctx.iter) {
			return Converged, nil
		}
		if o.projStepNorm(loc, ctx) <= spec.Stop.StepTolerance {
			return SmallStep, nil
		}
		if ctx.iter >= spec.Stop.MaxIterations {
			return OverIterLimit, nil
		}

		fMax := slices.Max(ctx.fHist)
		if err := o.lineSearch(loc, ctx, fMax); err != nil {
			return HaltEvalError, err
		}

		ctx.iter++
		ctx.fHist[ctx.iter%histLen] = loc.f
		o.updateSpectral(ctx)

		if spec.Trace != nil {
			_, _ = fmt.Fprintf(spec.Trace, "  spg %5d  f=%12.5e  step=%8.2e\n", ctx.iter, loc.f, ctx.alpha)
		}
	}
}

// projStepNorm computes ‖𝑃(x-g) - x‖∞, the optimality measure of the
// projected unit gradient step.
func (o *Optimizer) projStepNorm(loc *spgLoc, ctx *spgCtx) float64 {
	d := ctx.xNew
	for i, x := range loc.x {
		d[i] = x - loc.g[i]
	}
	o.spec.Project(d)
	norm := 0.0
	for i, x := range loc.x {
		norm = math.Max(norm, math.Abs(d[i]-x))
	}
	return norm
}

// lineSearch backtracks along the projected arc 𝑃(x - αg) until the
// nonmonotone Armijo condition f(x⁎) ≤ fMax + γ·dᵀg holds, then performs
// a full evaluation at the accepted point.
func (o *Optimizer) lineSearch(loc *spgLoc, ctx *spgCtx, fMax float64) error {

	spec := &o.spec
	alpha := ctx.alpha

	copy(ctx.gOld, loc.g)
	copy(ctx.s, loc.x)

	for back := 0; ; back++ {
		xNew := ctx.xNew
		for i, x := range loc.x {
			xNew[i] = x - alpha*loc.g[i]
		}
		spec.Project(xNew)

		fNew, err := spec.Eval(xNew, nil)
		ctx.eval++
		if err != nil {
			return err
		}

		gd := 0.0 // dᵀg for the projected direction d = x⁎ - x
		for i, x := range loc.x {
			gd += (xNew[i] - x) * loc.g[i]
		}

		if fNew <= fMax+suffDec*gd || gd >= 0 {
			loc.f = fNew
			copy(loc.x, xNew)
			break
		}
		if back >= 30 {
			// The arc has collapsed onto x; accept and let the
			// projected-step test decide.
			loc.f = fNew
			copy(loc.x, xNew)
			break
		}
		alpha /= 2
	}

	// Full evaluation refreshes the gradient at the accepted point.
	f, err := spec.Eval(loc.x, loc.g)
	ctx.eval++
	if err != nil {
		return err
	}
	loc.f = f

	for i, x := range loc.x {
		ctx.s[i] = x - ctx.s[i]
		ctx.y[i] = loc.g[i] - ctx.gOld[i]
	}
	return nil
}

// updateSpectral refreshes the Barzilai-Borwein step α = sᵀs / sᵀy.
func (o *Optimizer) updateSpectral(ctx *spgCtx) {
	sts := floats.Dot(ctx.s, ctx.s)
	sty := floats.Dot(ctx.s, ctx.y)
	if sty <= 0 {
		ctx.alpha = stepMax
	} else {
		ctx.alpha = clampStep(sts / sty)
	}
}

func clampStep(a float64) float64 {
	return math.Min(stepMax, math.Max(stepMin, a))
}
