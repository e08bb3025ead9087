package resource

import (
	"context"
	"slices"
)

// executorsOf collects the recorded executors of the given tasks in this
// case, including co-signers.
func executorsOf(fctx *Context, taskIDs []string) map[string]bool {
	executors := map[string]bool{}
	for _, rec := range fctx.Records {
		if rec.Action != "complete" && rec.Action != "start" {
			continue
		}
		if !slices.Contains(taskIDs, rec.TaskID) {
			continue
		}
		if rec.Participant != "" {
			executors[rec.Participant] = true
		}
		if rec.CoSigner != "" {
			executors[rec.CoSigner] = true
		}
	}
	return executors
}

// SeparationOfDutiesFilter removes every participant recorded as executor of
// a conflicting task in the same case. A participant who raised a purchase
// order never sees its approval offered.
type SeparationOfDutiesFilter struct{}

func (SeparationOfDutiesFilter) Name() string { return "separation-of-duties" }

func (SeparationOfDutiesFilter) Apply(ctx context.Context, candidates []Participant, fctx *Context) ([]Participant, error) {
	if len(fctx.Resourcing.SeparationFrom) == 0 {
		return candidates, nil
	}
	executors := executorsOf(fctx, fctx.Resourcing.SeparationFrom)
	var res []Participant
	for _, p := range candidates {
		if !executors[p.Ref()] {
			res = append(res, p)
		}
	}
	return res, nil
}

// FourEyesFilter removes the recorded executors of the designated prior
// tasks. The second half of the four-eyes principle, the distinct co-signer
// at completion, is enforced by the engine.
type FourEyesFilter struct{}

func (FourEyesFilter) Name() string { return "four-eyes" }

func (FourEyesFilter) Apply(ctx context.Context, candidates []Participant, fctx *Context) ([]Participant, error) {
	if len(fctx.Resourcing.FourEyesWith) == 0 {
		return candidates, nil
	}
	executors := executorsOf(fctx, fctx.Resourcing.FourEyesWith)
	var res []Participant
	for _, p := range candidates {
		if !executors[p.Ref()] {
			res = append(res, p)
		}
	}
	return res, nil
}
