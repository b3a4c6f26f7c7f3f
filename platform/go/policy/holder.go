package policy

import (
	"errors"
	"sync/atomic"
)

// Holder owns the active Policy for a process. Readers take a snapshot with
// Current; writers replace it wholesale with Swap or Update.
type Holder struct {
	current atomic.Pointer[Policy]
}

// NewHolder validates the initial policy and wraps it.
func NewHolder(initial Policy) (*Holder, error) {
	validated, err := New(initial)
	if err != nil {
		return nil, err
	}

	h := &Holder{}
	h.current.Store(&validated)
	return h, nil
}

// MustHolder is NewHolder for values already known to be valid, such as Default().
func MustHolder(initial Policy) *Holder {
	h, err := NewHolder(initial)
	if err != nil {
		panic(err)
	}
	return h
}

// Current returns the active policy.
func (h *Holder) Current() Policy {
	return *h.current.Load()
}

// Swap validates next and makes it the active policy. The previous policy stays
// active when validation fails.
func (h *Holder) Swap(next Policy) (Policy, error) {
	if h == nil {
		return Policy{}, errors.New("policy holder is nil")
	}

	validated, err := New(next)
	if err != nil {
		return Policy{}, err
	}

	h.current.Store(&validated)
	return validated, nil
}

// Update applies mutate to a copy of the active policy and swaps the result in.
func (h *Holder) Update(mutate func(p *Policy)) (Policy, error) {
	next := h.Current()
	next.CleanupScheduleHours = append([]int(nil), next.CleanupScheduleHours...)
	mutate(&next)
	return h.Swap(next)
}
