// Package fitness maps ensemble observables to selection coefficients. The
// set of fitness functions is closed: new ones are added by extending the
// variant set here, not by registering callables at runtime.
package fitness

import (
	"fmt"
	"sort"

	"thermoevo/internal/ensemble"
)

// Function maps the selected observable of one condition to a non-negative
// fitness contribution. Implementations must be stateless.
type Function interface {
	Name() string
	Evaluate(value float64) float64
}

// On rewards a high observable value; fitness is the value itself. With
// select_on fx_obs this is the fraction of the ensemble in the observable
// macrostate.
type On struct{}

func (On) Name() string { return "on" }

func (On) Evaluate(value float64) float64 { return value }

// Off rewards a low observable value; fitness is 1 - value.
type Off struct{}

func (Off) Name() string { return "off" }

func (Off) Evaluate(value float64) float64 { return 1 - value }

// Neutral applies no selection; every genotype contributes fitness 1.
type Neutral struct{}

func (Neutral) Name() string { return "neutral" }

func (Neutral) Evaluate(float64) float64 { return 1 }

// Description is one entry of the static usage table.
type Description struct {
	Name string
	Doc  string
}

// Registry is the process-wide immutable set of fitness functions. Build
// it once at startup and pass it explicitly to whatever needs it.
type Registry struct {
	byName map[string]Function
	names  []string
}

// NewRegistry returns the registry over the closed variant set.
func NewRegistry() *Registry {
	fns := []Function{On{}, Off{}, Neutral{}}
	r := &Registry{byName: make(map[string]Function, len(fns))}
	for _, fn := range fns {
		r.byName[fn.Name()] = fn
		r.names = append(r.names, fn.Name())
	}
	sort.Strings(r.names)
	return r
}

// Resolve returns the function registered under name.
func (r *Registry) Resolve(name string) (Function, error) {
	fn, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown fitness function %q; available: %v", name, r.names)
	}
	return fn, nil
}

// Names lists the registered function names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Describe returns the static documentation table for the listing surface.
func (r *Registry) Describe() []Description {
	docs := map[string]string{
		"on":      "select for a high observable value (fitness = value)",
		"off":     "select for a low observable value (fitness = 1 - value)",
		"neutral": "no selection (fitness = 1 for every genotype)",
	}
	out := make([]Description, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, Description{Name: name, Doc: docs[name]})
	}
	return out
}

// Observable axes a condition may select on.
const (
	SelectFxObs = "fx_obs"
	SelectDGObs = "dG_obs"
)

// SelectValue extracts the chosen axis from an Observables result.
func SelectValue(obs ensemble.Observables, selectOn string) (float64, error) {
	switch selectOn {
	case "", SelectFxObs:
		return obs.FxObs, nil
	case SelectDGObs:
		return obs.DGObs, nil
	default:
		return 0, fmt.Errorf("unknown select_on axis %q", selectOn)
	}
}
