// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pqn implements a projected quasi-Newton method: L-BFGS search
// directions combined with backtracking over the projected arc. It is one
// of the two interchangeable inner solvers of the Pareto root-finding
// engine and shares the contract of package spg.
package pqn

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

// suffDec is the sufficient-decrease constant of the Armijo test.
const suffDec = 1e-4

// Problem specifies the problem for the PQN optimizer.
type Problem struct {
	N       int         // The problem dimension
	M       int         // The correction number of BFGS
	Eval    Evaluation  // Objective function and gradient
	Project Projection  // Euclidean projection onto the feasible set
	Stop    Termination // Stop condition
	Halt    Halt        // Optional early-stop callback
	Trace   io.Writer   // Optional per-iteration trace sink
}

// New creates a new PQN optimizer for given problem.
func (p *Problem) New() (optimizer *Optimizer, err error) {
	switch {
	case p.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.M <= 0:
		err = errors.New("correction number must greater than 0")
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

// Optimizer implemented using the projected quasi-Newton algorithm.
type Optimizer struct {
	spec Problem
}

// Workspace contains the state and context of the optimization process.
// Given problem dimension n and corrections number m,
// total work space is approximately float64[2×mn + 4×n + 2×m].
type Workspace struct {
	n, m int
	pqnCtx
}

type pqnLoc struct {
	f float64
	x []float64
	g []float64
}

type pqnCtx struct {
	iter int
	eval int

	// The correction pair ring: col pairs stored, head is the oldest.
	col, head int
	ws, wy    [][]float64 // s and y corrections
	rho       []float64   // 1 / sᵀy per stored pair
	alpha     []float64   // two-loop work space
	gamma     float64     // initial Hessian scale yᵀs / yᵀy

	d    []float64 // search direction
	xNew []float64 // trial point
	gOld []float64
	xOld []float64
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

// Init allocate the workspace for the PQN optimizer.
// To avoid race conditions, separate workspaces need to be created for
// each goroutine. But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n, w.m = o.spec.N, o.spec.M
	w.ws = make([][]float64, w.m)
	w.wy = make([][]float64, w.m)
	for i := 0; i < w.m; i++ {
		w.ws[i] = make([]float64, w.n)
		w.wy[i] = make([]float64, w.n)
	}
	w.rho = make([]float64, w.m)
	w.alpha = make([]float64, w.m)
	w.d = make([]float64, w.n)
	w.xNew = make([]float64, w.n)
	w.gOld = make([]float64, w.n)
	w.xOld = make([]float64, w.n)
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if len(x) != o.spec.N {
		panic("initial x dimension not match spec")
	}
	if w.n != o.spec.N || w.m != o.spec.M {
		panic("workspace dimension not match spec")
	}

	loc := pqnLoc{
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

func (o *Optimizer) mainLoop(loc *pqnLoc, w *Workspace) (Status, error) {

	spec := &o.spec
	ctx := &w.pqnCtx

	ctx.iter, ctx.eval = 0, 0
	ctx.col, ctx.head = 0, 0
	ctx.gamma = 1

	spec.Project(loc.x)

	f, err := spec.Eval(loc.x, loc.g)
	ctx.eval++
	if err != nil {
		return HaltEvalError, err
	}
	loc.f = f

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

		o.twoLoop(loc, ctx)
		if err := o.lineSearch(loc, ctx); err != nil {
			return HaltEvalError, err
		}
		o.updateCorrection(loc, ctx)

		ctx.iter++
		if spec.Trace != nil {
			_, _ = fmt.Fprintf(spec.Trace, "  pqn %5d  f=%12.5e  mem=%d\n", ctx.iter, loc.f, ctx.col)
		}
	}
}

// projStepNorm computes ‖𝑃(x-g) - x‖∞, the optimality measure of the
// projected unit gradient step.
func (o *Optimizer) projStepNorm(loc *pqnLoc, ctx *pqnCtx) float64 {
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

// twoLoop computes the L-BFGS direction d = -Hg with the standard
// two-loop recursion over the stored correction pairs.
func (o *Optimizer) twoLoop(loc *pqnLoc, ctx *pqnCtx) {
	d := ctx.d
	for i, g := range loc.g {
		d[i] = -g
	}
	m := ctx.col
	for k := m - 1; k >= 0; k-- {
		i := (ctx.head + k) % len(ctx.ws)
		ctx.alpha[i] = ctx.rho[i] * floats.Dot(ctx.ws[i], d)
		floats.AddScaled(d, -ctx.alpha[i], ctx.wy[i])
	}
	floats.Scale(ctx.gamma, d)
	for k := 0; k < m; k++ {
		i := (ctx.head + k) % len(ctx.ws)
		beta := ctx.rho[i] * floats.Dot(ctx.wy[i], d)
		floats.AddScaled(d, ctx.alpha[i]-beta, ctx.ws[i])
	}
}

// lineSearch backtracks along the projected arc 𝑃(x + αd) until the
// Armijo condition holds, then refreshes the gradient at the accepted point.
func (o *Optimizer) lineSearch(loc *pqnLoc, ctx *pqnCtx) error {

	spec := &o.spec
	copy(ctx.xOld, loc.x)
	copy(ctx.gOld, loc.g)

	alpha := 1.0
	for back := 0; ; back++ {
		xNew := ctx.xNew
		for i, x := range loc.x {
			xNew[i] = x + alpha*ctx.d[i]
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

		// Projection can spoil the quasi-Newton descent: with gd ≥ 0
		// only an actual decrease is accepted.
		if fNew <= loc.f+suffDec*math.Min(gd, 0) || back >= 30 {
			loc.f = fNew
			copy(loc.x, xNew)
			break
		}
		alpha /= 2
	}

	f, err := spec.Eval(loc.x, loc.g)
	ctx.eval++
	if err != nil {
		return err
	}
	loc.f = f
	return nil
}

// updateCorrection stores the new (s, y) pair, skipping the update when
// the curvature condition sᵀy > ‖y‖² × 𝚎𝚙𝚜𝚖𝚌𝚑 fails.
func (o *Optimizer) updateCorrection(loc *pqnLoc, ctx *pqnCtx) {

	m := len(ctx.ws)
	tail := (ctx.head + ctx.col) % m
	s, y := ctx.ws[tail], ctx.wy[tail]
	for i, x := range loc.x {
		s[i] = x - ctx.xOld[i]
		y[i] = loc.g[i] - ctx.gOld[i]
	}

	sty := floats.Dot(s, y)
	yty := floats.Dot(y, y)
	epsilon := math.Nextafter(1, 2) - 1
	if sty <= epsilon*yty {
		return
	}

	ctx.rho[tail] = 1 / sty
	ctx.gamma = sty / yty
	if ctx.col < m {
		ctx.col++
	} else {
		ctx.head = (ctx.head + 1) % m
	}
}
