package metrics

// Gauge represents a point-in-time value. How samples in one window combine
// depends on the gauge's policy: set, average or max.
type Gauge interface {
	Metrics
	Update(value Value)
	UpdateWithDim(value Value, dimensions Dimension)
}

type gauge struct {
	name   string
	group  string
	policy Policy
}

func (g *gauge) Name() string { return g.name }

func (g *gauge) Group() string { return g.group }

func (g *gauge) Policy() Policy { return g.policy }

func (g *gauge) Update(v Value) {
	g.UpdateWithDim(v, nil)
}

func (g *gauge) UpdateWithDim(v Value, dimensions Dimension) {
	r := Record{
		metrics:    g,
		value:      v,
		dimensions: dimensions,
	}
	if g.policy == Policy_Avg {
		r.cnt = 1
	}
	report(r)
}
