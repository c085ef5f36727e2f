package service

import (
	"context"
	"fmt"
	"math"

	"reactor-lab/internal/model"
)

// DomainError is a processing failure that belongs to the experiment, not
// to the invocation: bad input data, divergence, a missing upload. It is
// recorded on the experiment record and never crashes the dispatcher.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// Default simulation parameters, matching the laboratory protocol.
const (
	defaultTAdd      = 7380.0  // monomer dosing stops here [s]
	defaultTSpanEnd  = 13100.0 // [s]
	defaultDt        = 1.0     // integration step [s]
	defaultAdjRPS    = 0.05    // stirring contribution to heat transfer
	defaultAdjJacket = 10.0    // jacket heat-transfer scale
)

// Reactor geometry and physical constants.
const (
	acrossReactor = 0.02133  // reactor cross section [m^2]
	areaPerLevel  = 0.5177   // wetted jacket area per liquid level [m^2/m]
	jacketVolume  = 0.004    // [m^3]
	rhoMix        = 1040.0   // reaction mixture density [kg/m^3]
	cpMix         = 3350.0   // reaction mixture heat capacity [J/(kg K)]
	rhoWater      = 997.0    // [kg/m^3]
	cpWater       = 4180.0   // [J/(kg K)]
	dHPoly        = -8.9e4   // polymerization enthalpy [J/mol]
	uBase         = 110.0    // stagnant heat-transfer coefficient [W/(m^2 K)]
	kp0           = 2.9e3    // propagation pre-exponential [m^3/(mol s)]
	epKp          = 2.45e4   // propagation activation energy [J/mol]
	kd0           = 6.0e12   // initiator decomposition pre-exponential [1/s]
	edKd          = 1.23e5   // decomposition activation energy [J/mol]
	kInhib        = 1.1e-2   // inhibitor consumption rate [m^3/(mol s)]
	kNuc          = 1.4e16   // particle nucleation factor [1/(mol s)]
	rGas          = 8.314    // [J/(mol K)]
	cVAMFeed      = 3200.0   // monomer feed concentration [mol/m^3]
	cBAFeed       = 420.0    // co-monomer feed concentration [mol/m^3]
	cNaPSFeed     = 36.0     // initiator feed concentration [mol/m^3]
	tempFeed      = 296.15   // feed temperature [K]
	muRef         = 8.9e-4   // water viscosity reference [Pa s]
	tempRef       = 273.15   // [K]
)

// state vector indices
const (
	iL = iota
	iCVAM
	iCBA
	iCNaPS
	iCTBHP
	iCCRD
	iCMPOL
	iNp
	iT1
	iT3
	nStates
)

// Simulator integrates the semi-batch emulsion reactor balances against an
// uploaded laboratory series. It is deliberately opaque to the rest of the
// system: parameters and a series path in, result series or a DomainError
// out.
type Simulator struct{}

func NewSimulator() *Simulator { return &Simulator{} }

type simInputs struct {
	tAdd   float64
	tSpan  [2]float64
	dt     float64
	adj    [2]float64
	series *Series
}

// Simulate implements SimulateFunc.
func (s *Simulator) Simulate(ctx context.Context, params model.Parameters, seriesPath string) (Results, error) {
	series, err := LoadSeries(seriesPath)
	if err != nil {
		return nil, err
	}

	in := simInputs{
		tAdd:  defaultTAdd,
		tSpan: [2]float64{0, defaultTSpanEnd},
		dt:    defaultDt,
		adj:   [2]float64{defaultAdjRPS, defaultAdjJacket},
	}
	if params.TAdd != nil {
		in.tAdd = *params.TAdd
	}
	if params.TSpan != nil {
		in.tSpan = *params.TSpan
	}
	if params.Dt != nil {
		in.dt = *params.Dt
	}
	if params.AdjFactor != nil {
		in.adj = *params.AdjFactor
	}
	if in.dt <= 0 {
		return nil, &DomainError{Message: fmt.Sprintf("dt must be positive, got %g", in.dt)}
	}
	if in.tSpan[1] <= in.tSpan[0] {
		return nil, &DomainError{Message: fmt.Sprintf("empty integration span [%g, %g]", in.tSpan[0], in.tSpan[1])}
	}
	in.series = series

	y := s.initialState(params, series)
	return s.integrate(ctx, in, y)
}

// initialState fills the state vector from explicit initial conditions,
// falling back to values derived from the first series samples.
func (s *Simulator) initialState(params model.Parameters, series *Series) [nStates]float64 {
	var y [nStates]float64
	y[iL] = 0.085
	y[iCVAM] = 120.0
	y[iCBA] = 18.0
	y[iCNaPS] = 4.5
	y[iCTBHP] = 0.9
	y[iCCRD] = 0.35
	y[iCMPOL] = 0.0
	y[iNp] = 1.0e18
	y[iT1] = series.T1[0]
	y[iT3] = series.T3[0]

	override := func(i int, v *float64) {
		if v != nil {
			y[i] = *v
		}
	}
	override(iL, params.L0i)
	override(iCVAM, params.CVAM0i)
	override(iCBA, params.CBA0i)
	override(iCNaPS, params.CNaPS0i)
	override(iCTBHP, params.CTBHP0i)
	override(iCCRD, params.CCRD0i)
	override(iCMPOL, params.CMPOL0i)
	override(iNp, params.Np0i)
	override(iT1, params.T10i)
	override(iT3, params.T30i)
	return y
}

func (s *Simulator) integrate(ctx context.Context, in simInputs, y [nStates]float64) (Results, error) {
	steps := int(math.Floor((in.tSpan[1]-in.tSpan[0])/in.dt)) + 1

	out := make(map[string][]float64, nStates+4)
	keys := []string{
		"liquid_level", "vam_concentration", "ba_concentration",
		"naps_concentration", "tbhp_concentration", "crd_concentration",
		"polymer_concentration", "particle_number",
		"reactor_temperature", "jacket_temperature",
	}
	timeOut := make([]float64, 0, steps)
	for _, k := range keys {
		out[k] = make([]float64, 0, steps)
	}
	viscosity := make([]float64, 0, steps)
	heatRate := make([]float64, 0, steps)
	heatCoeff := make([]float64, 0, steps)

	t := in.tSpan[0]
	for step := 0; step < steps; step++ {
		if step%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		for i, k := range keys {
			out[k] = append(out[k], y[i])
		}
		timeOut = append(timeOut, t)
		ua, _ := s.heatTransfer(in, t, y)
		viscosity = append(viscosity, s.muPOL(y[iT1], y[iCMPOL]))
		heatRate = append(heatRate, ua*(y[iT1]-y[iT3]))
		heatCoeff = append(heatCoeff, ua)

		// Classic fixed-step RK4.
		k1 := s.derivatives(in, t, y)
		k2 := s.derivatives(in, t+in.dt/2, advance(y, k1, in.dt/2))
		k3 := s.derivatives(in, t+in.dt/2, advance(y, k2, in.dt/2))
		k4 := s.derivatives(in, t+in.dt, advance(y, k3, in.dt))
		for i := 0; i < nStates; i++ {
			y[i] += in.dt / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
		}
		// Concentrations and level cannot go negative.
		for i := iL; i <= iNp; i++ {
			if y[i] < 0 {
				y[i] = 0
			}
		}

		for i := 0; i < nStates; i++ {
			if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
				return nil, &DomainError{Message: fmt.Sprintf("numerical divergence at t=%.1fs (state %d)", t, i)}
			}
		}
		t += in.dt
	}

	results := Results{"time": timeOut}
	for _, k := range keys {
		results[k] = out[k]
	}
	results["viscosity"] = viscosity
	results["heat_transfer_rate"] = heatRate
	results["heat_transfer_coeff"] = heatCoeff
	return results, nil
}

func advance(y, k [nStates]float64, h float64) [nStates]float64 {
	var out [nStates]float64
	for i := 0; i < nStates; i++ {
		out[i] = y[i] + h*k[i]
	}
	return out
}

// derivatives evaluates the balance equations at (t, y).
func (s *Simulator) derivatives(in simInputs, t float64, y [nStates]float64) [nStates]float64 {
	var dy [nStates]float64
	series := in.series

	f2 := series.f2At(t)
	f7 := series.f7At(t)
	f9 := series.f9At(t)
	volume := math.Max(acrossReactor*y[iL], 1e-6)
	fIn := f2 + f7 + f9

	// The feed tank is spent after t_add: flows continue as water.
	cVAMIn, cBAIn, cNaPSIn := 0.0, 0.0, 0.0
	if t < in.tAdd {
		cVAMIn, cBAIn, cNaPSIn = cVAMFeed, cBAFeed, cNaPSFeed
	}

	t1 := y[iT1]
	kp := kp0 * math.Exp(-epKp/(rGas*t1))
	kd := kd0 * math.Exp(-edKd/(rGas*t1))

	// Radical concentration from initiator decomposition, quenched by the
	// inhibitor while it lasts.
	radicals := math.Sqrt(math.Max(kd*y[iCNaPS], 0) / 1e-3)
	inhibition := 1.0 / (1.0 + 40.0*y[iCCRD])
	rp := kp * radicals * inhibition * y[iCVAM] * 1e-4
	rpBA := kp * radicals * inhibition * y[iCBA] * 2.1e-5

	dilution := fIn / volume

	dy[iL] = fIn / acrossReactor
	dy[iCVAM] = (f2*cVAMIn)/volume - dilution*y[iCVAM] - rp
	dy[iCBA] = (f2*cBAIn)/volume - dilution*y[iCBA] - rpBA
	dy[iCNaPS] = (f7*cNaPSIn)/volume - dilution*y[iCNaPS] - kd*y[iCNaPS]
	dy[iCTBHP] = -kd * 0.2 * y[iCTBHP]
	dy[iCCRD] = -kInhib * radicals * y[iCCRD]
	dy[iCMPOL] = rp + rpBA - dilution*y[iCMPOL]
	dy[iNp] = kNuc * kd * y[iCNaPS] * inhibition

	ua, f8 := s.heatTransfer(in, t, y)
	qRx := -dHPoly * (rp + rpBA) * volume
	qJacket := ua * (y[iT3] - t1)
	qFeed := fIn * rhoMix * cpMix * (tempFeed - t1) / volume

	dy[iT1] = (qRx+qJacket)/(rhoMix*cpMix*volume) + qFeed/(rhoMix*cpMix)
	dy[iT3] = f8/jacketVolume*(series.t2At(t)-y[iT3]) - qJacket/(rhoWater*cpWater*jacketVolume)

	return dy
}

// heatTransfer returns UA between reactor and jacket, scaled by the
// adjustment factors, plus the jacket flow at t.
func (s *Simulator) heatTransfer(in simInputs, t float64, y [nStates]float64) (float64, float64) {
	series := in.series
	rps := series.rpsAt(t)
	f8 := series.f8At(t)

	area := areaPerLevel * math.Max(y[iL], 1e-3)
	u := uBase * (1 + in.adj[0]*rps) * in.adj[1]
	// Polymer build-up thickens the film and degrades transfer.
	u /= 1 + 0.002*y[iCMPOL]
	return u * area, f8
}

// muPOL estimates the mixture viscosity from temperature and polymer
// content.
func (s *Simulator) muPOL(t1, cMPOL float64) float64 {
	if t1 <= 0 {
		return muRef
	}
	return muRef * math.Exp(0.004*cMPOL) * math.Pow(tempRef/t1, 0.5)
}
