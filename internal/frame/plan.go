package frame

import "fmt"

// Target selects which relation a plan step operates on.
type Target int

const (
	Positions Target = iota
	Lookthroughs
)

// Plan is the lazy transformation plan for one request. Column additions for
// every requested perspective are queued first, then post-steps (parent
// synchronization, rescaling) run over the materialized columns. Collect
// executes the whole queue exactly once.
type Plan struct {
	positions    *Frame
	lookthroughs *Frame
	steps        []planStep
	collected    bool
}

type planStep struct {
	target Target
	name   string
	expr   Expr
	post   func(pos, lt *Frame) error
}

// NewPlan wraps the request's relations. lookthroughs may be nil when the
// request carried no lookthrough rows.
func NewPlan(positions, lookthroughs *Frame) *Plan {
	return &Plan{positions: positions, lookthroughs: lookthroughs}
}

// Positions returns the positions relation.
func (p *Plan) Positions() *Frame { return p.positions }

// Lookthroughs returns the lookthroughs relation, or nil.
func (p *Plan) Lookthroughs() *Frame { return p.lookthroughs }

// AddColumn queues a column derivation on the chosen relation. Queuing
// against an absent lookthrough relation is a no-op.
func (p *Plan) AddColumn(target Target, name string, expr Expr) {
	if target == Lookthroughs && p.lookthroughs == nil {
		return
	}
	p.steps = append(p.steps, planStep{target: target, name: name, expr: expr})
}

// Then queues a step that runs after all previously queued work, with direct
// access to both materialized relations.
func (p *Plan) Then(step func(pos, lt *Frame) error) {
	p.steps = append(p.steps, planStep{post: step})
}

// Collect executes every queued step in order. A plan collects exactly once.
func (p *Plan) Collect() error {
	if p.collected {
		return fmt.Errorf("plan already collected")
	}
	p.collected = true
	for _, step := range p.steps {
		if step.post != nil {
			if err := step.post(p.positions, p.lookthroughs); err != nil {
				return err
			}
			continue
		}
		target := p.positions
		if step.target == Lookthroughs {
			target = p.lookthroughs
		}
		s, err := step.expr.Eval(target)
		if err != nil {
			return fmt.Errorf("deriving column %q: %w", step.name, err)
		}
		if err := target.SetColumn(step.name, s); err != nil {
			return err
		}
	}
	return nil
}
