// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpdn

import (
	"errors"
	"math"
	"os"
	"slices"

	"github.com/curioloop/pareto/gauge"
	"github.com/curioloop/pareto/linop"
)

// Termination specifies the resource budgets for one solve. A value ≤ 0
// means unlimited, except MaxIterations which is required.
type Termination struct {
	// The outer loop stop when the number of iteration exceeds limit.
	MaxIterations int
	// The solve stop when the total number of forward and adjoint
	// products reaches limit, returning the best iterate found.
	MaxMatvec int
	// The outer loop stop when the wall-clock seconds exceed limit.
	MaxRuntime int64
}

// Tolerance is the accepted deviation of the Pareto curve value from σ.
// The solve is optimal when -Below ≤ 𝒇-σ ≤ Above. NaN selects the default
// on that side; a one-sided scalar tolerance sets both to the same value.
type Tolerance struct {
	Above, Below float64
}

// Problem specifies one basis-pursuit-denoise problem.
// Exactly one of Tau/Sigma may be left NaN: a NaN Sigma requests a single
// fixed-τ solve, a NaN Tau defaults to 0. When both are NaN the problem
// degenerates to τ = 0, σ = 0.
type Problem struct {
	A     linop.Operator // The linear map, explicit matrix or black-box products
	B     []float64      // The observation vector, length m
	Tau   float64        // The initial gauge budget, NaN = 0
	Sigma float64        // The target residual bound, NaN = solve at fixed τ
}

// Config is the fixed record of solver choices for one Optimizer.
type Config struct {
	Solver  Solver       // Inner solver variant
	Finder  RootFinder   // τ update rule
	Penalty Penalty      // Primal loss
	HuberM  float64      // Huber threshold, required for PenaltyHuber
	Kappa   *gauge.Gauge // Optional gauge triple, all-or-nothing override
	Stop    Termination  // Resource budgets
	Tol     Tolerance    // Deviation bound from σ
	// Iteration cap of one inner solve (default 1000).
	InnerIterations int
	// Correction number for the projected quasi-Newton solver (default 8).
	Memory int
}

const (
	defaultTol       = 1e-6
	defaultInnerIter = 1000
	defaultMemory    = 8
	// exactGapTol is the newton/secant inner stop target: the inner
	// solve is assumed (eventually) exact under those rules.
	exactGapTol = 1e-10
	// innerStepTol stops an inner solve whose projected gradient
	// step has collapsed.
	innerStepTol = 1e-10
)

// New creates a new Pareto root-finding optimizer for given problem.
func (p *Problem) New(conf *Config, logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	if conf == nil {
		conf = new(Config)
	}
	c := *conf

	if c.InnerIterations <= 0 {
		c.InnerIterations = defaultInnerIter
	}
	if c.Memory <= 0 {
		c.Memory = defaultMemory
	}

	tol := c.Tol
	if math.IsNaN(tol.Above) {
		tol.Above = defaultTol
	}
	if math.IsNaN(tol.Below) {
		tol.Below = defaultTol
	}
	if tol.Above == zero && tol.Below == zero {
		tol.Above, tol.Below = defaultTol, defaultTol
	}

	kappa := gauge.OneNorm()
	if c.Kappa != nil && !c.Kappa.Empty() {
		if !c.Kappa.Complete() {
			err = errors.New("gauge triple must be fully specified or fully defaulted")
			return
		}
		kappa = *c.Kappa
	}

	var m, n int
	if p.A != nil {
		m, n = p.A.Dims()
	}

	switch {
	case p.A == nil:
		err = errors.New("linear operator is required")
	case len(p.B) != m:
		err = errors.New("observation size must equal to operator row count")
	case !math.IsNaN(p.Tau) && p.Tau < zero:
		err = errors.New("gauge budget must not less than 0")
	case !math.IsNaN(p.Sigma) && p.Sigma < zero:
		err = errors.New("residual target must not less than 0")
	case c.Solver != SolverSPG && c.Solver != SolverPQN:
		err = errors.New("unknown inner solver variant")
	case c.Finder != FindNewton && c.Finder != FindSecant && c.Finder != FindISecant:
		err = errors.New("unknown root finder variant")
	case c.Penalty != PenaltyLSQ && c.Penalty != PenaltyHuber:
		err = errors.New("unknown primal penalty variant")
	case c.Penalty == PenaltyHuber && !(c.HuberM > zero):
		err = errors.New("huber threshold must greater than 0")
	case c.Stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 1")
	case tol.Above < zero || tol.Below < zero:
		err = errors.New("tolerance must not less than 0")
	}
	if err != nil {
		return
	}

	huberM := one
	obj := objective(lsqObjective)
	if c.Penalty == PenaltyHuber {
		huberM = c.HuberM
		obj = huberObjective(huberM)
	}

	optimizer = &Optimizer{
		solveSpec{
			m: m, n: n,
			prob:   *p,
			conf:   c,
			tol:    tol,
			huberM: huberM,
			kappa:  kappa,
			obj:    obj,
			logger: *logger,
		},
	}
	return
}

// Optimizer implemented with the Pareto root-finding algorithm.
type Optimizer struct {
	solveSpec
}

type solveSpec struct {
	m, n   int
	prob   Problem
	conf   Config
	tol    Tolerance
	huberM float64
	kappa  gauge.Gauge
	obj    objective
	logger Logger
}

// Workspace contains the state and context of one solve.
// To avoid race conditions, separate workspaces need to be created for
// each goroutine. But multiple workspaces could share one optimizer.
type Workspace struct {
	m, n int
	outerCtx
}

// Init allocate the workspace for the optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.m, w.n = o.m, o.n
	w.ctx.b = o.prob.B
	w.ctx.r = make([]float64, w.m)
	w.ctx.atr = make([]float64, w.n)
	return w
}

// Result contains the final result of one solve. Whatever the terminal
// status, X is the most recent κ-feasible iterate: resource-limit and
// inner-solver conditions are operational outcomes, not failures.
type Result struct {
	OK      bool      // Whether the solve reached Optimal.
	X       []float64 // Final solution.
	R       []float64 // Final (possibly Huber-transformed) residual.
	F       float64   // Final objective value.
	Tau     float64   // Final gauge budget.
	Summary           // Solve summary.
}

// Summary contains a summary of one solve.
type Summary struct {
	Status    Status // Terminal status.
	StatusMsg string // Human-readable status, with the inner message when relevant.
	NumIter   int    // Number of completed outer iterations.

	NumForward int // Number of forward operator products.
	NumAdjoint int // Number of adjoint operator products.
	NumProject int // Number of gauge projections.

	TimeTotal   int64 // Total solve nanoseconds.
	TimeMatProd int64 // Nanoseconds inside operator products.
	TimeProject int64 // Nanoseconds inside gauge projections.

	TauHistory   []float64 // τ per completed outer iteration.
	SlopeHistory []float64 // Slope estimate per completed outer iteration.
}

// Fit runs one solve from the warm start x (nil for the zero vector)
// using workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if x == nil {
		x = make([]float64, o.n)
	}
	if len(x) != o.n {
		panic("initial x dimension not match spec")
	}
	if w.m != o.m || w.n != o.n {
		panic("workspace dimension not match spec")
	}

	loc := iterLoc{x: slices.Repeat(x, 1)}
	driver := iterDriver{
		optimizer: o,
		workspace: w,
		location:  &loc,
		meter:     linop.NewMeter(o.prob.A, o.conf.Stop.MaxMatvec),
	}

	status, msg := driver.mainLoop()
	return &Result{
		OK:  status == Optimal,
		X:   loc.x,
		R:   slices.Repeat(w.ctx.r, 1),
		F:   w.ctx.f,
		Tau: w.ctx.tau,
		Summary: Summary{
			Status:       status,
			StatusMsg:    msg,
			NumIter:      w.iter,
			NumForward:   driver.meter.NumForward,
			NumAdjoint:   driver.meter.NumAdjoint,
			NumProject:   w.numProject,
			TimeTotal:    w.totalTime,
			TimeMatProd:  driver.meter.ProductTime,
			TimeProject:  w.projectTime,
			TauHistory:   slices.Repeat(w.tauHist, 1),
			SlopeHistory: slices.Repeat(w.slopeHist, 1),
		},
	}
}
