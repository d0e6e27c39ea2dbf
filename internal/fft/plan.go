// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Plan wraps an algo-fft complex128 plan. The library already normalizes
// the inverse.
type Plan struct {
	n    int
	plan *algofft.Plan[complex128]
}

var _ Transform = (*Plan)(nil)

// NewPlan returns an algo-fft backed transform of length n.
func NewPlan(n int) (*Plan, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return nil, fmt.Errorf("fft: failed to create plan: %w", err)
	}
	return &Plan{n: n, plan: plan}, nil
}

func (p *Plan) Len() int { return p.n }

func (p *Plan) Forward(dst, src []complex128) error {
	if err := checkBuffers(p.n, dst, src); err != nil {
		return err
	}
	return p.plan.Forward(dst, src)
}

func (p *Plan) Inverse(dst, src []complex128) error {
	if err := checkBuffers(p.n, dst, src); err != nil {
		return err
	}
	return p.plan.Inverse(dst, src)
}
