// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpdn

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/curioloop/pareto/linop"
	"github.com/curioloop/pareto/pqn"
	"github.com/curioloop/pareto/spg"
)

// iterLoc is the current iterate of the outer loop.
type iterLoc struct {
	x     []float64
	gap   float64 // normalized primal-dual gap at x
	dual  float64 // clamped dual objective at x
	slope float64 // slope estimate of the last τ update
}

// outerCtx is the mutable outer iteration state, owned exclusively by the
// root-finding engine of one solve.
type outerCtx struct {
	ctx  evalCtx
	iter int

	numProject  int
	projectTime int64
	totalTime   int64

	tauHist, fHist      []float64
	dualHist, slopeHist []float64

	start time.Time
}

// iterDriver drives the outer τ iterations: one inner solve per
// iteration, terminal checks in fixed order, then one τ update.
type iterDriver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *iterLoc
	meter     *linop.Meter

	// relGap is the inner accuracy target, loose at first and
	// tightening as τ approaches the Pareto crossing.
	relGap float64
}

func (d *iterDriver) mainLoop() (status Status, msg string) {

	o, w, loc := d.optimizer, d.workspace, d.location
	spec := &o.solveSpec
	ctx := &w.ctx
	log := spec.logger

	w.iter = 0
	w.numProject, w.projectTime = 0, 0
	w.tauHist, w.fHist = w.tauHist[:0], w.fHist[:0]
	w.dualHist, w.slopeHist = w.dualHist[:0], w.slopeHist[:0]
	w.start = time.Now()
	defer func() { w.totalTime = time.Since(w.start).Nanoseconds() }()

	tau, sigma := spec.prob.Tau, spec.prob.Sigma
	if math.IsNaN(tau) && math.IsNaN(sigma) {
		sigma = zero
	}
	if math.IsNaN(tau) {
		tau = zero
	}

	// ‖b‖ ≤ σ is satisfied by x = 0, τ = 0: clearing σ turns the very
	// first optimality check into an unconditional success.
	if !math.IsNaN(sigma) && floats.Norm(ctx.b, 2) <= sigma {
		tau, sigma = zero, math.NaN()
		for i := range loc.x {
			loc.x[i] = zero
		}
	}
	singleTau := math.IsNaN(sigma)

	ctx.tau, ctx.sigma = tau, sigma
	ctx.tauOld, ctx.fOld = math.NaN(), math.NaN()
	ctx.hasGrad = false
	d.relGap = one

	d.printInit(singleTau)

	for {
		// Inner accuracy target for this iteration.
		floor := 0.1 * math.Min(spec.tol.Above, spec.tol.Below)
		if w.iter > 0 && loc.slope != zero {
			d.relGap = math.Min(half*d.relGap, math.Abs(ctx.fOld/loc.slope))
		}
		ctx.gapTol = math.Max(floor, d.relGap)

		innerStat, innerErr := d.innerSolve()
		if errors.Is(innerErr, linop.ErrMatvecLimit) {
			// The interrupted iteration does not count as completed.
			status = OverMatvecLimit
			msg = status.String()
			d.printExit(status, msg)
			return
		}

		f := ctx.f
		if spec.conf.Finder == FindNewton || w.iter == 0 {
			if ctx.hasGrad {
				loc.slope = -spec.kappa.Polar(ctx.atr)
			}
		}

		if dual, ok := dualObjective(ctx, spec.kappa.Polar, spec.huberM); ok {
			loc.dual = math.Max(zero, dual)
		}
		if gap, ok := gapValue(ctx, spec.kappa.Polar, spec.huberM); ok {
			loc.gap = gap
		}

		// Terminal conditions, first satisfied wins, checked before
		// any τ update.
		switch {
		case spec.conf.Stop.MaxRuntime > 0 &&
			time.Since(w.start) >= time.Duration(spec.conf.Stop.MaxRuntime)*time.Second:
			status, msg = OverTimeLimit, OverTimeLimit.String()
		case w.iter >= spec.conf.Stop.MaxIterations:
			status, msg = OverIterLimit, OverIterLimit.String()
		case innerErr != nil:
			status = HaltInnerError
			msg = fmt.Sprintf("%s: %v", status, innerErr)
		case singleTau || (f-sigma <= spec.tol.Above && sigma-f <= spec.tol.Below):
			status, msg = Optimal, Optimal.String()
		}
		d.printIter(innerStat)
		if status != StatUnknown {
			d.printExit(status, msg)
			return
		}

		if n := len(w.fHist); n > 0 && f > w.fHist[n-1]+spec.tol.Above && log.enable(LogIter) {
			log.log("WARNING: pareto curve value increased from %12.5e to %12.5e\n", w.fHist[n-1], f)
		}

		w.tauHist = append(w.tauHist, ctx.tau)
		w.fHist = append(w.fHist, f)
		w.dualHist = append(w.dualHist, loc.dual)

		var tauNew float64
		switch {
		case w.iter == 0 || spec.conf.Finder == FindNewton:
			tauNew = newtonTau(ctx.tau, f, sigma, loc.slope)
		case spec.conf.Finder == FindSecant:
			tauNew, loc.slope = secantTau(ctx.tau, f, sigma, ctx.tauOld, ctx.fOld)
		default: // FindISecant
			tauNew, loc.slope = isecantTau(ctx.tau, loc.dual, sigma, ctx.tauOld, ctx.fOld)
		}
		w.slopeHist = append(w.slopeHist, loc.slope)

		ctx.tauOld, ctx.fOld = ctx.tau, f
		ctx.tau = math.Max(zero, tauNew)
		w.iter++
	}
}

// innerSolve runs one inner convex solve at the current τ, warm started
// from the current iterate. The shared context is refreshed by the
// objective evaluator during the solve; the returned status string is the
// inner solver's own vocabulary, the returned error its failure (with the
// matvec budget surfacing as linop.ErrMatvecLimit).
func (d *iterDriver) innerSolve() (string, error) {

	o, w, loc := d.optimizer, d.workspace, d.location
	spec := &o.solveSpec
	ctx := &w.ctx

	eval := func(x, g []float64) (float64, error) {
		if err := spec.obj(x, g, d.meter, ctx); err != nil {
			return zero, err
		}
		return ctx.f, nil
	}

	tau := ctx.tau
	project := func(x []float64) {
		start := time.Now()
		spec.kappa.Project(x, tau)
		w.projectTime += time.Since(start).Nanoseconds()
		w.numProject++
	}

	halt := d.haltCallback()

	var trace io.Writer
	if spec.logger.enable(LogInner) {
		trace = spec.logger.Msg
	}

	switch spec.conf.Solver {
	case SolverPQN:
		p := pqn.Problem{
			N: spec.n, M: spec.conf.Memory,
			Eval:    eval,
			Project: project,
			Stop: pqn.Termination{
				MaxIterations: spec.conf.InnerIterations,
				StepTolerance: innerStepTol,
			},
			Halt:  halt,
			Trace: trace,
		}
		inner, err := p.New()
		if err != nil {
			panic(err) // validated at configuration time
		}
		res := inner.Fit(loc.x, inner.Init())
		copy(loc.x, res.X)
		return res.Status.String(), res.Err

	default: // SolverSPG
		p := spg.Problem{
			N:       spec.n,
			Eval:    eval,
			Project: project,
			Stop: spg.Termination{
				MaxIterations: spec.conf.InnerIterations,
				StepTolerance: innerStepTol,
			},
			Halt:  halt,
			Trace: trace,
		}
		inner, err := p.New()
		if err != nil {
			panic(err) // validated at configuration time
		}
		res := inner.Fit(loc.x, inner.Init())
		copy(loc.x, res.X)
		return res.Status.String(), res.Err
	}
}

// haltCallback builds the inner early-stop rule of the active root
// finder. Both rules refuse to stop while the gradient context of the
// current inner iterate is not populated.
func (d *iterDriver) haltCallback() func(int) bool {

	spec := &d.optimizer.solveSpec
	ctx := &d.workspace.ctx
	polar, m := spec.kappa.Polar, spec.huberM

	if spec.conf.Finder == FindISecant {
		// Early, inexact termination: a dual certificate at or above σ
		// bounds the crossing from below, which is all the inexact
		// secant update needs.
		return func(int) bool {
			gap, ok := gapValue(ctx, polar, m)
			if !ok || gap > ctx.gapTol {
				return false
			}
			dual, _ := dualObjective(ctx, polar, m)
			return dual >= ctx.sigma
		}
	}

	return func(int) bool {
		gap, ok := gapValue(ctx, polar, m)
		return ok && gap <= exactGapTol
	}
}

// printInit logs the solve header: problem shape, mode and targets.
func (d *iterDriver) printInit(singleTau bool) {

	spec := &d.optimizer.solveSpec
	ctx := &d.workspace.ctx
	log := spec.logger

	if !log.enable(LogIter) {
		return
	}

	log.log("RUNNING THE PARETO ROOT-FINDING CODE\n")
	log.log("           * * *\n")
	log.log("M = %d    N = %d\n", spec.m, spec.n)
	if singleTau {
		log.log("Mode: fixed gauge budget tau = %.5e\n", ctx.tau)
	} else {
		log.log("Mode: root finding for sigma = %.5e from tau = %.5e\n", ctx.sigma, ctx.tau)
	}
	log.log("\n  iter          tau            f          gap         dual\n")
}

// printIter logs one outer iteration line.
func (d *iterDriver) printIter(innerStat string) {

	spec := &d.optimizer.solveSpec
	w, loc := d.workspace, d.location
	log := spec.logger

	if !log.enable(LogIter) {
		return
	}
	log.log("%6d %12.5e %12.5e %12.5e %12.5e\n",
		w.iter, w.ctx.tau, w.ctx.f, loc.gap, loc.dual)
	if log.enable(LogInner) {
		log.log("       inner: %s\n", innerStat)
	}
}

// printExit logs the final statistics and exit condition.
func (d *iterDriver) printExit(status Status, msg string) {

	spec := &d.optimizer.solveSpec
	w := d.workspace
	log := spec.logger

	if !log.enable(LogIter) {
		return
	}

	log.log("\n           * * *\n")
	log.log("Iter  = total number of outer iterations\n")
	log.log("Aprod = number of forward products\n")
	log.log("Atprd = number of adjoint products\n")
	log.log("Proj  = number of gauge projections\n")
	log.log("F     = final function value\n")
	log.log("\n  Iter   Aprod   Atprd    Proj            F          Tau\n")
	log.log("%6d %7d %7d %7d %12.5e %12.5e\n",
		w.iter, d.meter.NumForward, d.meter.NumAdjoint, w.numProject, w.ctx.f, w.ctx.tau)
	log.log("\n%s\n", msg)
	log.log("\n Matrix product time: %s\n", formatNs(d.meter.ProductTime))
	log.log(" Projection     time: %s\n", formatNs(w.projectTime))
	log.log(" Total solve    time: %s\n", formatNs(time.Since(w.start).Nanoseconds()))
}

func formatNs(nanoseconds int64) string {
	switch {
	case nanoseconds >= 1e9: // Convert to seconds
		return fmt.Sprintf("%.2f s", float64(nanoseconds)/1e9)
	case nanoseconds >= 1e6: // Convert to milliseconds
		return fmt.Sprintf("%.2f ms", float64(nanoseconds)/1e6)
	case nanoseconds >= 1e3: // Convert to microseconds
		return fmt.Sprintf("%.2f µs", float64(nanoseconds)/1e3)
	default: // Keep in nanoseconds
		return fmt.Sprintf("%.2f ns", float64(nanoseconds))
	}
}
