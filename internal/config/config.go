package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"gateline/internal/domain"
)

// FileName is the workspace config file.
const FileName = "gateline.yml"

// Config models gateline.yml.
type Config struct {
	Workflow struct {
		FirstActionable string              `yaml:"first_actionable"`
		Templates       map[string][]string `yaml:"templates"`
		ArtifactExempt  []string            `yaml:"artifact_exempt"`
		Triggers        []Trigger           `yaml:"triggers"`
	} `yaml:"workflow"`
	Gates struct {
		TechnicalReview struct {
			RequiredSignoffs    int  `yaml:"required_signoffs"`
			DistinctDisciplines bool `yaml:"distinct_disciplines"`
		} `yaml:"technical_review"`
	} `yaml:"gates"`
	Approvals struct {
		EnforceOrder bool `yaml:"enforce_order"`
	} `yaml:"approvals"`
	Dashboard struct {
		TeamRoles  []string `yaml:"team_roles"`
		WindowDays int      `yaml:"window_days"`
	} `yaml:"dashboard"`
	Store struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"store"`
	Notifications struct {
		SlackWebhookURL   string `yaml:"slack_webhook_url"`
		NATSURL           string `yaml:"nats_url"`
		NATSSubjectPrefix string `yaml:"nats_subject_prefix"`
	} `yaml:"notifications"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

// Trigger auto-advances a sibling task when the task titled When is submitted.
type Trigger struct {
	When    string `yaml:"when"`
	Sibling string `yaml:"sibling"`
	Status  string `yaml:"status"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workflow.FirstActionable == "" {
		return fmt.Errorf("config.workflow.first_actionable is required")
	}
	if _, err := domain.ParseStageType(c.Workflow.FirstActionable); err != nil {
		return fmt.Errorf("config.workflow.first_actionable: %w", err)
	}
	for stage, titles := range c.Workflow.Templates {
		if _, err := domain.ParseStageType(stage); err != nil {
			return fmt.Errorf("config.workflow.templates: %w", err)
		}
		seen := map[string]bool{}
		for _, title := range titles {
			if title == "" {
				return fmt.Errorf("template %s has empty task title", stage)
			}
			if seen[title] {
				return fmt.Errorf("template %s lists %q twice", stage, title)
			}
			seen[title] = true
		}
	}
	for _, title := range c.Workflow.ArtifactExempt {
		if title == "" {
			return fmt.Errorf("config.workflow.artifact_exempt contains empty title")
		}
	}
	when := map[string]bool{}
	for i, tr := range c.Workflow.Triggers {
		if tr.When == "" || tr.Sibling == "" {
			return fmt.Errorf("trigger %d needs when and sibling", i)
		}
		if tr.When == tr.Sibling {
			return fmt.Errorf("trigger %q points at itself", tr.When)
		}
		if when[tr.When] {
			return fmt.Errorf("trigger %q defined twice", tr.When)
		}
		when[tr.When] = true
		st, err := domain.ParseTaskStatus(tr.Status)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", tr.When, err)
		}
		if st != domain.TaskSubmitted {
			return fmt.Errorf("trigger %q may only move a sibling to submitted", tr.When)
		}
	}
	if c.Gates.TechnicalReview.RequiredSignoffs < 1 {
		return fmt.Errorf("config.gates.technical_review.required_signoffs must be >= 1")
	}
	if c.Store.TimeoutSeconds < 1 {
		return fmt.Errorf("config.store.timeout_seconds must be >= 1")
	}
	if c.Dashboard.WindowDays < 1 {
		return fmt.Errorf("config.dashboard.window_days must be >= 1")
	}
	for _, role := range c.Dashboard.TeamRoles {
		if role == "" {
			return fmt.Errorf("config.dashboard.team_roles contains empty role id")
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// StoreTimeout is the bound applied to each engine operation.
func (c *Config) StoreTimeout() time.Duration {
	if c == nil || c.Store.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// RoleIDs returns the configured role ids, sorted.
func (c *Config) RoleIDs() []string {
	out := make([]string, 0, len(c.RBAC.Roles))
	for id := range c.RBAC.Roles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Sections left out of the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	cfg.Gates.TechnicalReview.RequiredSignoffs = 3
	cfg.Store.TimeoutSeconds = 5
	cfg.Dashboard.WindowDays = 30
	cfg.Notifications.NATSSubjectPrefix = "gateline"
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders the config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `workflow:
  first_actionable: site_visit
  templates:
    initial_design:
      - 2D Layout
      - SketchUp Model
      - Render Set v1
      - Preliminary BOQ
    authority_package:
      - Technical Drawings
      - Engineer Sign-off
      - Authority Submission
    final_delivery:
      - Render View List
      - Ready for QA
      - DM QA Review
      - DC Compile & Release
  artifact_exempt:
    - Ready for QA
  triggers:
    - when: Ready for QA
      sibling: DM QA Review
      status: submitted
    - when: Technical Drawings
      sibling: Engineer Sign-off
      status: submitted

gates:
  technical_review:
    required_signoffs: 3
    distinct_disciplines: false

approvals:
  enforce_order: false

dashboard:
  team_roles: [lead_designer, technical_engineer, document_controller]
  window_days: 30

store:
  timeout_seconds: 5

notifications:
  slack_webhook_url: ""
  nats_url: ""
  nats_subject_prefix: gateline

rbac:
  roles:
    design_manager:
      description: "Runs the design pipeline and reviews deliverables"
      permissions: [stages.manage, tasks.review, handover.design, dashboard.view]
    lead_designer:
      description: "Manages stages and assigns deliverables"
      permissions: [stages.manage]
    document_controller:
      description: "Verifies submitted documents"
      permissions: [tasks.verify]
    technical_engineer:
      description: "Signs off technical deliverables"
      permissions: [tasks.signoff, stages.discipline_signoff]
    procurement:
      description: "Requisition-level approval and deliveries"
      permissions: [requisitions.approve.requisition, requisitions.receive]
    project_manager:
      description: "Project management approval"
      permissions: [requisitions.approve.pm]
    quantity_surveyor:
      description: "Quantity surveying approval and QS validation"
      permissions: [requisitions.approve.qs, stages.qs_validate]
    operations_manager:
      description: "Accepts the project into execution"
      permissions: [handover.operations]
    admin:
      description: "Full access"
      permissions:
        - admin
        - stages.manage
        - stages.qs_validate
        - stages.discipline_signoff
        - tasks.review
        - tasks.verify
        - tasks.signoff
        - requisitions.approve.requisition
        - requisitions.approve.pm
        - requisitions.approve.qs
        - requisitions.receive
        - handover.design
        - handover.operations
        - dashboard.view
`
