package manifest

import (
	"fmt"
	"strings"
	"time"
)

// Forecast cycles published per day (00z, 06z, 12z, 18z).
const (
	CycleInterval      = 6 * time.Hour
	DefaultStepsPerDay = 4
)

// Param describes a renderable layer parameter. Scalar fields have one
// component; vector fields (wind) have a U and a V component that are fetched
// together.
type Param struct {
	Name       string   `json:"name"`
	Components []string `json:"components"`
}

// Vector reports whether the parameter needs a pair of source files.
func (p Param) Vector() bool {
	return len(p.Components) == 2
}

// Known parameters, matching the files produced by the data pipeline.
var (
	ParamTemp2m = Param{Name: "temp2m", Components: []string{"temp2m"}}
	ParamWind10m = Param{
		Name:       "wind10m",
		Components: []string{"wind10m_u", "wind10m_v"},
	}
)

// ParamByName resolves a configured parameter name.
func ParamByName(name string) (Param, error) {
	switch name {
	case ParamTemp2m.Name:
		return ParamTemp2m, nil
	case ParamWind10m.Name:
		return ParamWind10m, nil
	default:
		return Param{}, fmt.Errorf("manifest: unknown parameter %q", name)
	}
}

// TimeStep is an immutable descriptor of one forecast timestep: its date,
// cycle and the remote file (or file pair, for vector fields) holding the
// data. Produced here and never mutated by consumers.
type TimeStep struct {
	Date            string    `json:"date"`  // YYYYMMDD
	Cycle           string    `json:"cycle"` // e.g. "00z"
	Valid           time.Time `json:"valid"` // always UTC
	SourceLocations []string  `json:"sourceLocations"`
}

// Equal compares two steps by identity: same valid time and same sources.
func (s TimeStep) Equal(o TimeStep) bool {
	if !s.Valid.Equal(o.Valid) || len(s.SourceLocations) != len(o.SourceLocations) {
		return false
	}
	for i := range s.SourceLocations {
		if s.SourceLocations[i] != o.SourceLocations[i] {
			return false
		}
	}
	return true
}

// Builder constructs timestep timelines with source URLs under a base
// location, e.g. https://cdn.example.com/data.
type Builder struct {
	baseURL string
}

// NewBuilder creates a Builder. The base URL is used as-is, minus any
// trailing slash.
func NewBuilder(baseURL string) *Builder {
	return &Builder{baseURL: strings.TrimRight(baseURL, "/")}
}

// Location returns the source URL for one component of one cycle:
// {base}/{component}/{date}_{cycle}.bin
func (b *Builder) Location(component, date, cycle string) string {
	return fmt.Sprintf("%s/%s/%s_%s.bin", b.baseURL, component, date, cycle)
}

// Timeline produces the ordered timesteps for a parameter between from and to
// (inclusive), one per forecast cycle. Times are truncated to the cycle grid.
func (b *Builder) Timeline(param Param, from, to time.Time) []TimeStep {
	from = from.UTC().Truncate(CycleInterval)
	to = to.UTC().Truncate(CycleInterval)

	var steps []TimeStep
	for t := from; !t.After(to); t = t.Add(CycleInterval) {
		date := t.Format("20060102")
		cycle := fmt.Sprintf("%02dz", t.Hour())

		locations := make([]string, 0, len(param.Components))
		for _, comp := range param.Components {
			locations = append(locations, b.Location(comp, date, cycle))
		}

		steps = append(steps, TimeStep{
			Date:            date,
			Cycle:           cycle,
			Valid:           t,
			SourceLocations: locations,
		})
	}
	return steps
}

// StepsPerDay derives the timestep cadence from the timeline spacing.
// Falls back to the default 6-hourly cadence when it cannot be derived.
func StepsPerDay(steps []TimeStep) int {
	if len(steps) < 2 {
		return DefaultStepsPerDay
	}
	interval := steps[1].Valid.Sub(steps[0].Valid)
	if interval <= 0 {
		return DefaultStepsPerDay
	}
	n := int(24 * time.Hour / interval)
	if n <= 0 {
		return 1
	}
	return n
}
