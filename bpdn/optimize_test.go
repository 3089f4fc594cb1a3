// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpdn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/pareto/gauge"
	"github.com/curioloop/pareto/linop"
)

// The fixture map keeps the Pareto curve in closed form: with A = [I₄|0]
// and b = (3,0,-2,0), the minimizer at budget τ ≤ 5 soft-thresholds b by
// λ = (5-τ)/2 and the curve value is 𝒇(τ) = λ².
func fixtureProblem(tau, sigma float64) *Problem {
	a := mat.NewDense(4, 6, []float64{
		1, 0, 0, 0, 0, 0,
		0, 1, 0, 0, 0, 0,
		0, 0, 1, 0, 0, 0,
		0, 0, 0, 1, 0, 0,
	})
	return &Problem{
		A:     linop.NewDense(a),
		B:     []float64{3, 0, -2, 0},
		Tau:   tau,
		Sigma: sigma,
	}
}

func fixtureConfig(solver Solver, finder RootFinder) *Config {
	return &Config{
		Solver:  solver,
		Finder:  finder,
		Penalty: PenaltyLSQ,
		Stop:    Termination{MaxIterations: 200},
		Tol:     Tolerance{Above: math.NaN(), Below: math.NaN()},
	}
}

func TestQuickExit(t *testing.T) {

	// ‖b‖₂ = √13 < 4: the zero vector already satisfies the residual
	// bound and no root finding happens.
	prob := fixtureProblem(math.NaN(), 4)
	o, err := prob.New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)

	res := o.Fit(nil, o.Init())
	require.True(t, res.OK)
	require.Equal(t, Optimal, res.Status)
	require.Equal(t, 0, res.NumIter)
	require.Empty(t, res.TauHistory)
	require.Equal(t, zero, res.Tau)
	for _, v := range res.X {
		require.Equal(t, zero, v)
	}
}

func TestZeroObservation(t *testing.T) {

	// Both targets unset with b = 0 degenerates to the trivial solve.
	prob := fixtureProblem(math.NaN(), math.NaN())
	prob.B = make([]float64, 4)

	o, err := prob.New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)

	res := o.Fit(nil, o.Init())
	require.True(t, res.OK)
	require.Equal(t, 0, res.NumIter)
	require.InDelta(t, zero, res.F, 1e-15)
}

func TestFixedTau(t *testing.T) {

	// An unset σ requests a single solve at the given budget: with
	// τ = 2.5 the threshold is λ = 1.25.
	prob := fixtureProblem(2.5, math.NaN())
	o, err := prob.New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)

	res := o.Fit(nil, o.Init())
	require.True(t, res.OK)
	require.Equal(t, 0, res.NumIter)
	require.Empty(t, res.TauHistory)

	want := []float64{1.75, 0, -0.75, 0, 0, 0}
	require.InDeltaSlice(t, want, res.X, 1e-6)
	require.InDelta(t, 1.25*1.25, res.F, 1e-6)
}

func TestRootFindExactRecovery(t *testing.T) {

	// σ = 0 drives the curve to an exact fit: τ* = ‖x*‖₁ = 5.
	want := []float64{3, 0, -2, 0, 0, 0}
	for name, finder := range map[string]RootFinder{
		"newton": FindNewton,
		"secant": FindSecant,
	} {
		prob := fixtureProblem(math.NaN(), 0)
		o, err := prob.New(fixtureConfig(SolverSPG, finder), nil)
		require.NoError(t, err, name)

		res := o.Fit(nil, o.Init())
		require.True(t, res.OK, name)
		require.Equal(t, Optimal, res.Status, name)
		require.Greater(t, res.NumIter, 0, name)
		require.InDelta(t, 5, res.Tau, 1e-2, name)
		require.InDeltaSlice(t, want, res.X, 1e-2, name)
		require.Len(t, res.TauHistory, res.NumIter, name)
		require.Len(t, res.SlopeHistory, res.NumIter, name)
	}
}

func TestRootFindInexactSecant(t *testing.T) {

	// σ = 0.5 crosses the curve at λ = 1/√2, τ* = 5 - √2.
	const sigma = 0.5
	prob := fixtureProblem(math.NaN(), sigma)
	o, err := prob.New(fixtureConfig(SolverSPG, FindISecant), nil)
	require.NoError(t, err)

	res := o.Fit(nil, o.Init())
	require.True(t, res.OK)
	require.Equal(t, Optimal, res.Status)
	require.InDelta(t, sigma, res.F, 1e-5)
	require.InDelta(t, 5-math.Sqrt2, res.Tau, 1e-3)
}

func TestRootFindQuasiNewtonSolver(t *testing.T) {

	prob := fixtureProblem(math.NaN(), 0)
	o, err := prob.New(fixtureConfig(SolverPQN, FindNewton), nil)
	require.NoError(t, err)

	res := o.Fit(nil, o.Init())
	require.True(t, res.OK)
	require.InDelta(t, 5, res.Tau, 1e-2)
	require.InDeltaSlice(t, []float64{3, 0, -2, 0, 0, 0}, res.X, 1e-2)
}

func TestCurveMonotonicity(t *testing.T) {

	prob := fixtureProblem(math.NaN(), 0)
	o, err := prob.New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)

	w := o.Init()
	res := o.Fit(nil, w)
	require.True(t, res.OK)

	for i := 1; i < len(w.fHist); i++ {
		require.LessOrEqual(t, w.fHist[i], w.fHist[i-1]+defaultTol)
	}
}

func TestMatvecBudget(t *testing.T) {

	prob := fixtureProblem(math.NaN(), 0)
	conf := fixtureConfig(SolverSPG, FindNewton)
	conf.Stop.MaxMatvec = 1

	o, err := prob.New(conf, nil)
	require.NoError(t, err)

	res := o.Fit(nil, o.Init())
	require.False(t, res.OK)
	require.Equal(t, OverMatvecLimit, res.Status)
	require.Equal(t, 0, res.NumIter)
	require.Len(t, res.X, 6)
	require.Equal(t, 1, res.NumForward+res.NumAdjoint)
}

func TestIterationBudget(t *testing.T) {

	prob := fixtureProblem(math.NaN(), 0)
	conf := fixtureConfig(SolverSPG, FindNewton)
	conf.Stop.MaxIterations = 2

	o, err := prob.New(conf, nil)
	require.NoError(t, err)

	res := o.Fit(nil, o.Init())
	require.False(t, res.OK)
	require.Equal(t, OverIterLimit, res.Status)
	require.Equal(t, 2, res.NumIter)
}

func TestHuberSmoothMatchesLeastSquares(t *testing.T) {

	// With every residual far below the threshold the Huber penalty is
	// the least-squares loss rescaled, so the fixed-τ minimizers agree.
	lsq, err := fixtureProblem(2.5, math.NaN()).New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)

	conf := fixtureConfig(SolverSPG, FindNewton)
	conf.Penalty = PenaltyHuber
	conf.HuberM = 1e4
	hub, err := fixtureProblem(2.5, math.NaN()).New(conf, nil)
	require.NoError(t, err)

	resLSQ := lsq.Fit(nil, lsq.Init())
	resHub := hub.Fit(nil, hub.Init())
	require.True(t, resLSQ.OK)
	require.True(t, resHub.OK)
	require.InDeltaSlice(t, resLSQ.X, resHub.X, 1e-3)
}

func TestSigmaNearObservationNorm(t *testing.T) {

	norm := math.Sqrt(13) // ‖b‖₂ of the fixture

	above, err := fixtureProblem(math.NaN(), norm+1e-3).New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)
	res := above.Fit(nil, above.Init())
	require.True(t, res.OK)
	require.Equal(t, 0, res.NumIter) // quick exit

	below, err := fixtureProblem(math.NaN(), norm-1e-3).New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)
	res = below.Fit(nil, below.Init())
	require.True(t, res.OK)
	require.InDelta(t, norm-1e-3, res.F, defaultTol)
}

func TestWarmStart(t *testing.T) {

	prob := fixtureProblem(math.NaN(), 0)
	o, err := prob.New(fixtureConfig(SolverSPG, FindNewton), nil)
	require.NoError(t, err)

	cold := o.Fit(nil, o.Init())
	require.True(t, cold.OK)

	warm := o.Fit(cold.X, o.Init())
	require.True(t, warm.OK)
	require.InDeltaSlice(t, cold.X, warm.X, 1e-2)

	require.Panics(t, func() { o.Fit(make([]float64, 3), o.Init()) })
}

func TestNewValidation(t *testing.T) {

	breaks := map[string]func(p *Problem, c *Config){
		"nil operator":     func(p *Problem, c *Config) { p.A = nil },
		"observation size": func(p *Problem, c *Config) { p.B = p.B[:2] },
		"negative tau":     func(p *Problem, c *Config) { p.Tau = -1 },
		"negative sigma":   func(p *Problem, c *Config) { p.Sigma = -1 },
		"bad solver":       func(p *Problem, c *Config) { c.Solver = Solver(99) },
		"bad finder":       func(p *Problem, c *Config) { c.Finder = RootFinder(99) },
		"bad penalty":      func(p *Problem, c *Config) { c.Penalty = Penalty(99) },
		"huber threshold":  func(p *Problem, c *Config) { c.Penalty = PenaltyHuber; c.HuberM = 0 },
		"iteration budget": func(p *Problem, c *Config) { c.Stop.MaxIterations = 0 },
		"negative tol":     func(p *Problem, c *Config) { c.Tol = Tolerance{Above: -1, Below: 1} },
		"partial gauge":    func(p *Problem, c *Config) { c.Kappa = &gauge.Gauge{Eval: func([]float64) float64 { return 0 }} },
	}

	for name, brk := range breaks {
		prob := fixtureProblem(math.NaN(), 0)
		conf := fixtureConfig(SolverSPG, FindNewton)
		brk(prob, conf)
		_, err := prob.New(conf, nil)
		require.Error(t, err, name)
	}
}

func TestDefaultConfigRejected(t *testing.T) {

	// The zero Config is not runnable: the iteration budget is required.
	_, err := fixtureProblem(math.NaN(), 0).New(nil, nil)
	require.Error(t, err)
}
