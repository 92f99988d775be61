// Package workflow holds the declarative deliverable rules: per-stage task
// templates, artifact-exempt titles, and sibling triggers.
package workflow

import (
	"fmt"

	"gateline/internal/config"
	"gateline/internal/domain"
)

// TriggerRule moves Sibling to Status when its trigger task is submitted.
type TriggerRule struct {
	Sibling string
	Status  domain.TaskStatus
}

// TriggerTable maps a trigger task title to its sibling rule.
type TriggerTable map[string]TriggerRule

// Lookup returns the rule for a submitted task title.
func (t TriggerTable) Lookup(title string) (TriggerRule, bool) {
	r, ok := t[title]
	return r, ok
}

type Rules struct {
	FirstActionable domain.StageType
	Templates       map[domain.StageType][]string
	Exempt          map[string]struct{}
	Triggers        TriggerTable
}

// FromConfig builds the rule set from a validated config.
func FromConfig(cfg *config.Config) (Rules, error) {
	first, err := domain.ParseStageType(cfg.Workflow.FirstActionable)
	if err != nil {
		return Rules{}, err
	}
	r := Rules{
		FirstActionable: first,
		Templates:       map[domain.StageType][]string{},
		Exempt:          map[string]struct{}{},
		Triggers:        TriggerTable{},
	}
	for name, titles := range cfg.Workflow.Templates {
		st, err := domain.ParseStageType(name)
		if err != nil {
			return Rules{}, err
		}
		r.Templates[st] = append([]string(nil), titles...)
	}
	for _, title := range cfg.Workflow.ArtifactExempt {
		r.Exempt[title] = struct{}{}
	}
	for _, tr := range cfg.Workflow.Triggers {
		status, err := domain.ParseTaskStatus(tr.Status)
		if err != nil {
			return Rules{}, fmt.Errorf("trigger %q: %w", tr.When, err)
		}
		r.Triggers[tr.When] = TriggerRule{Sibling: tr.Sibling, Status: status}
	}
	return r, nil
}

// Template returns the deliverable titles created with a stage.
func (r Rules) Template(st domain.StageType) []string {
	return r.Templates[st]
}

// ArtifactExempt reports whether a task may be submitted without a file link.
func (r Rules) ArtifactExempt(title string) bool {
	_, ok := r.Exempt[title]
	return ok
}

// InitialStatus is the status a freshly created stage of type st starts in.
func (r Rules) InitialStatus(st domain.StageType) domain.StageStatus {
	if st == r.FirstActionable {
		return domain.StageInProgress
	}
	return domain.StageLocked
}
