package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/engine/auth"
	"gateline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and its stage pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.CreateProject(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Client, "client", "", "client name")
	cmd.Flags().StringVar(&opts.DealRef, "deal", "", "originating deal reference")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Client", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Client, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (active, completed, handed_over)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				stages, err := e.ListStages(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "stages": stages})
				}
				fmt.Printf("%s  %s  [%s]\n", p.ID, p.Name, p.Status)
				printStages(stages)
				return nil
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and everything it owns (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.DeleteProject(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func printStages(stages []domain.Stage) {
	tw := newTable(table.Row{"#", "ID", "Stage", "Status", "Updated"})
	for _, s := range stages {
		tw.AppendRow(table.Row{s.Order, s.ID, s.Type.Label(), s.Status, s.UpdatedAt})
	}
	tw.Render()
}

func stageCmd() *cobra.Command {
	st := &cobra.Command{Use: "stage", Short: "Work with project stages"}
	st.AddCommand(&cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stages, err := e.ListStages(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stages)
				}
				printStages(stages)
				return nil
			})
		},
	})
	st.AddCommand(&cobra.Command{
		Use:   "show <stage-id>",
		Short: "Show a stage, its deliverables and gate preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.StageDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("%s  %s  [%s]\n", v.Stage.ID, v.Stage.Type.Label(), v.Stage.Status)
				if len(v.Tasks) > 0 {
					printTasks(v.Tasks)
				}
				if v.Gate.Passed {
					fmt.Println("gate: passes")
				} else {
					fmt.Println("gate: blocked")
					for _, u := range v.Gate.Unmet {
						fmt.Printf("  - %s\n", u)
					}
				}
				return nil
			})
		},
	})
	st.AddCommand(stageAction("close", "Close the stage if its gate passes", nil,
		func(ctx context.Context, e engine.Engine, id string, actor auth.Actor) error {
			return e.CloseStage(ctx, id, actor)
		}))
	st.AddCommand(stageAction("unlock", "Start a locked stage early", nil,
		func(ctx context.Context, e engine.Engine, id string, actor auth.Actor) error {
			return e.UnlockStage(ctx, id, actor)
		}))

	var sv struct{ held, minutes, photos, brief string }
	st.AddCommand(stageAction("site-visit", "Record the site visit log and close the stage",
		func(cmd *cobra.Command) {
			cmd.Flags().StringVar(&sv.held, "held-at", "", "meeting time (RFC3339)")
			cmd.Flags().StringVar(&sv.minutes, "minutes", "", "minutes link")
			cmd.Flags().StringVar(&sv.photos, "photos", "", "photos link")
			cmd.Flags().StringVar(&sv.brief, "brief", "", "updated brief link")
		},
		func(ctx context.Context, e engine.Engine, id string, actor auth.Actor) error {
			c := engine.SiteVisitCommand{StageID: id, MinutesLink: sv.minutes, PhotosLink: sv.photos, UpdatedBriefLink: sv.brief}
			if sv.held != "" {
				t, err := time.Parse(time.RFC3339, sv.held)
				if err != nil {
					return fmt.Errorf("--held-at must be RFC3339: %w", err)
				}
				c.MeetingHeldAt = &t
			}
			return e.CompleteSiteVisit(ctx, c, actor)
		}))

	var vendor string
	st.AddCommand(stageAction("measurement-request", "Request vendor measurement",
		func(cmd *cobra.Command) {
			cmd.Flags().StringVar(&vendor, "vendor", "", "vendor id")
		},
		func(ctx context.Context, e engine.Engine, id string, actor auth.Actor) error {
			_, err := e.RequestMeasurement(ctx, id, vendor, actor)
			return err
		}))

	var pkg string
	st.AddCommand(stageAction("measurement", "Approve the measurement package and close the stage",
		func(cmd *cobra.Command) {
			cmd.Flags().StringVar(&pkg, "package", "", "measurement package link")
		},
		func(ctx context.Context, e engine.Engine, id string, actor auth.Actor) error {
			return e.CompleteMeasurement(ctx, engine.MeasurementCommand{StageID: id, PackageLink: pkg}, actor)
		}))

	var costSheet, boq string
	st.AddCommand(stageAction("qs-handover", "Record QS validation and close the stage",
		func(cmd *cobra.Command) {
			cmd.Flags().StringVar(&costSheet, "cost-sheet", "", "cost estimation sheet link")
			cmd.Flags().StringVar(&boq, "boq", "", "validated BOQ link")
		},
		func(ctx context.Context, e engine.Engine, id string, actor auth.Actor) error {
			return e.CompleteQSHandover(ctx, engine.QSHandoverCommand{StageID: id, CostEstimationSheetLink: costSheet, ValidatedBOQLink: boq}, actor)
		}))

	var discipline string
	st.AddCommand(stageAction("signoff", "Record an interdisciplinary signoff",
		func(cmd *cobra.Command) {
			cmd.Flags().StringVar(&discipline, "discipline", "", "discipline (e.g. structural, mep)")
		},
		func(ctx context.Context, e engine.Engine, id string, actor auth.Actor) error {
			_, err := e.AddDisciplineSignoff(ctx, id, discipline, actor)
			return err
		}))
	return st
}

func stageAction(use, short string, flags func(*cobra.Command), run func(context.Context, engine.Engine, string, auth.Actor) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <stage-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := run(ctx, e, args[0], actor); err != nil {
					if unmet := engine.UnmetRequirements(err); len(unmet) > 0 && !viper.GetBool("json") {
						fmt.Println("gate not satisfied:")
						for _, u := range unmet {
							fmt.Printf("  - %s\n", u)
						}
					}
					return err
				}
				s, err := e.StageDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.Stage)
				}
				fmt.Printf("%s: %s\n", s.Stage.Type.Label(), s.Stage.Status)
				return nil
			})
		},
	}
	if flags != nil {
		flags(cmd)
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Work with deliverables"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskMineCmd())
	t.AddCommand(taskAssignCmd())
	t.AddCommand(taskSubmitCmd())
	t.AddCommand(taskReviewCmd())
	t.AddCommand(taskVerifyCmd("verify", "Document control verification", engine.Engine.VerifyTask))
	t.AddCommand(taskSignOffCmd())
	t.AddCommand(taskCommentCmd())
	return t
}

func printTasks(tasks []domain.Task) {
	tw := newTable(table.Row{"ID", "Title", "Status", "Owner", "Due", "Score"})
	for _, t := range tasks {
		score := ""
		if t.Score != nil {
			score = fmt.Sprint(t.Score.Score)
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, deref(t.OwnerID), deref(t.DueDate), score})
	}
	tw.Render()
}

func taskCreateCmd() *cobra.Command {
	var stageID, title, owner, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an ad-hoc deliverable to a stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate, err := parseDate("due", due)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				task, err := e.CreateTask(ctx, engine.TaskCreateOptions{StageID: stageID, Title: title, OwnerID: owner, DueDate: dueDate}, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(task)
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&owner, "owner", "", "owner actor id")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				f.Status = strings.Split(status, ",")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.StageID, "stage", "", "stage id")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&status, "status", "", "comma separated status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")
	return cmd
}

func taskMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Open and revision-requested tasks owned by the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.MyTasks(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	var owner, due string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Set owner and due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate, err := parseDate("due", due)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				task, err := e.AssignTask(ctx, args[0], owner, dueDate, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(task)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner actor id")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var link, key string
	cmd := &cobra.Command{
		Use:   "submit <task-id>",
		Short: "Submit a deliverable and score it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.SubmitTask(ctx, engine.SubmitOptions{TaskID: args[0], FileLink: link, IdempotencyKey: key}, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s submitted: score %d (%d days late)\n", res.Task.Title, res.Score.Score, res.Score.LatenessDays)
				if res.Sibling != nil {
					fmt.Printf("%s moved to %s\n", res.Sibling.Title, res.Sibling.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&link, "file", "", "deliverable file link")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "replay-safe submission key")
	return cmd
}

func taskReviewCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "review <task-id>",
		Short: "Accept a submission or request a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := domain.ParseTaskStatus(status)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				task, err := e.ReviewTask(ctx, args[0], st, notes, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(task)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "done or revision_requested")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes, stored as a comment")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskVerifyCmd(use, short string, fn func(engine.Engine, context.Context, string, auth.Actor) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				task, err := fn(e, ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrText(task)
			})
		},
	}
}

func taskSignOffCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "sign-off <task-id>",
		Short: "Technical engineer sign-off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				task, err := e.SignOffTask(ctx, args[0], notes, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(task)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "sign-off notes")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <task-id>",
		Short: "Comment on a task, or list comments when --text is empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					items, err := e.ListComments(ctx, args[0])
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(items)
					}
					tw := newTable(table.Row{"When", "Author", "Text"})
					for _, c := range items {
						tw.AppendRow(table.Row{c.CreatedAt, c.AuthorID, c.Text})
					}
					tw.Render()
					return nil
				})
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				c, err := e.AddComment(ctx, args[0], text, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	return cmd
}

func requisitionCmd() *cobra.Command {
	r := &cobra.Command{Use: "requisition", Aliases: []string{"req"}, Short: "Material requisitions"}
	r.AddCommand(requisitionCreateCmd())
	r.AddCommand(requisitionListCmd())
	r.AddCommand(requisitionSubmitCmd())
	r.AddCommand(requisitionApproveCmd())
	r.AddCommand(requisitionDeliverCmd())
	r.AddCommand(requisitionPendingCmd())
	return r
}

func printRequisitions(items []domain.Requisition) {
	tw := newTable(table.Row{"ID", "Number", "Material", "Status", "Requisition", "PM", "QS"})
	for _, q := range items {
		tw.AppendRow(table.Row{q.ID, q.Number, q.MaterialType, q.Status, q.RequisitionApproval, q.PMApproval, q.QSApproval})
	}
	tw.Render()
}

func requisitionCreateCmd() *cobra.Command {
	var opts engine.RequisitionCreateOptions
	var requiredBy string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a material requisition",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDate("required-by", requiredBy)
			if err != nil {
				return err
			}
			opts.RequiredBy = d
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				q, err := e.CreateRequisition(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(q)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Number, "number", "", "requisition number")
	cmd.Flags().StringVar(&opts.MaterialType, "material", "", "material type")
	cmd.Flags().StringVar(&opts.Urgency, "urgency", "", "urgency")
	cmd.Flags().StringVar(&requiredBy, "required-by", "", "required by (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.Draft, "draft", false, "keep as draft until submitted")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("material")
	return cmd
}

func requisitionListCmd() *cobra.Command {
	var f repo.RequisitionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requisitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRequisitions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printRequisitions(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func requisitionSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <requisition-id>",
		Short: "Move a draft into the approval chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				q, err := e.SubmitRequisition(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrText(q)
			})
		},
	}
}

func requisitionApproveCmd() *cobra.Command {
	var slot string
	var reject bool
	cmd := &cobra.Command{
		Use:   "approve <requisition-id>",
		Short: "Approve or reject one approval slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := domain.ParseApprovalSlot(slot)
			if err != nil {
				return err
			}
			decision := domain.DecisionApproved
			if reject {
				decision = domain.DecisionRejected
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				q, err := e.SetApproval(ctx, args[0], s, decision, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(q)
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "requisition, pm or qs")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func requisitionDeliverCmd() *cobra.Command {
	var partial bool
	cmd := &cobra.Command{
		Use:   "deliver <requisition-id>",
		Short: "Record a delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				q, err := e.RecordDelivery(ctx, args[0], partial, actor)
				if err != nil {
					return err
				}
				return printJSONOrText(q)
			})
		},
	}
	cmd.Flags().BoolVar(&partial, "partial", false, "partial delivery")
	return cmd
}

func requisitionPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Approvals waiting on the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.PendingApprovals(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Number", "Material", "Pending", "Actionable"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Requisition.ID, it.Requisition.Number, it.Requisition.MaterialType, it.PendingFor, it.Actionable})
				}
				tw.Render()
				return nil
			})
		},
	}
}
