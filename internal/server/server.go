package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/engine/auth"
	"gateline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"gate_not_satisfied"`
	Message string         `json:"message" example:"gate not satisfied"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"unmet\":[\"photos link missing\"]}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	e   engine.Engine
	log *slog.Logger
}

// New returns an HTTP handler exposing the Gateline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Request schema violations are client errors, 422 is reserved for gates.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", cfg.Engine.Metrics.Handler())
	hcfg := huma.DefaultConfig("Gateline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, log: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerProjects(group)
	h.registerStages(group)
	h.registerTasks(group)
	h.registerRequisitions(group)
	h.registerEvents(group)
	h.registerDashboard(group)
	h.registerRBAC(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine taxonomy onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	switch engine.KindOf(err) {
	case engine.KindNotFound:
		return newAPIError(http.StatusNotFound, "not_found", "resource not found", nil)
	case engine.KindUnauthorized:
		var details map[string]any
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			details = map[string]any{"permission": fe.Permission}
		}
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), details)
	case engine.KindValidation:
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case engine.KindInvalidState:
		return newAPIError(http.StatusConflict, "invalid_state", "operation not allowed in the current state", nil)
	case engine.KindGateNotSatisfied:
		return newAPIError(http.StatusUnprocessableEntity, "gate_not_satisfied", err.Error(),
			map[string]any{"unmet": nonNilSlice(engine.UnmetRequirements(err))})
	case engine.KindStoreUnavailable:
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", "store unavailable, retry later", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

// fail logs err and converts it. Only gate, authorization and validation
// failures reach the caller verbatim; everything else gets a fixed message.
func (h handlers) fail(op string, err error) huma.StatusError {
	kind := engine.KindOf(err)
	switch kind {
	case engine.KindStoreUnavailable, engine.KindInternal:
		h.log.Error("request failed", "op", op, "kind", kind.String(), "err", err)
	case engine.KindInvalidState:
		h.log.Warn("request conflicts with state", "op", op, "kind", kind.String(), "err", err)
	case engine.KindNotFound:
		h.log.Info("resource not found", "op", op, "kind", kind.String(), "err", err)
	default:
		h.log.Debug("request refused", "op", op, "kind", kind.String(), "err", err)
	}
	return handleError(err)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var once sync.Once
	var doc []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gateline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusServiceUnavailable,
}

var gateErrors = append([]int{http.StatusUnprocessableEntity}, mutationErrors...)

var readErrors = []int{
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusServiceUnavailable,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type idPath struct {
	ID string `path:"id"`
}

type projectOutput struct {
	Body domain.Project
}

type stageOutput struct {
	Body StageDetailResponse
}

type taskOutput struct {
	Body domain.Task
}

type requisitionOutput struct {
	Body domain.Requisition
}

func (h handlers) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create a project with its full stage pipeline",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*projectOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := h.e.CreateProject(ctx, engine.ProjectCreateOptions{
			Name:    input.Body.Name,
			Client:  input.Body.Client,
			DealRef: input.Body.DealRef,
		}, actor)
		if err != nil {
			return nil, h.fail("create-project", err)
		}
		return &projectOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Project
	}, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.ListProjects(ctx, input.Status)
		if err != nil {
			return nil, h.fail("list-projects", err)
		}
		return &struct {
			Body []domain.Project
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*projectOutput, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		p, err := h.e.GetProject(ctx, input.ID)
		if err != nil {
			return nil, h.fail("get-project", err)
		}
		return &projectOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{id}",
		Summary:     "Delete project and everything it owns",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		if err := h.e.DeleteProject(ctx, input.ID, actor); err != nil {
			return nil, h.fail("delete-project", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/stages",
		Summary:     "List a project's stages in pipeline order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body []StageResponse
	}, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		stages, err := h.e.ListStages(ctx, input.ID)
		if err != nil {
			return nil, h.fail("list-stages", err)
		}
		return &struct {
			Body []StageResponse
		}{Body: mapStages(stages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-handover",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/handover",
		Summary:     "Sign the execution handover as design or operations",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body HandoverResponse
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := h.e.SignHandover(ctx, input.ID, actor)
		if err != nil {
			return nil, h.fail("sign-handover", err)
		}
		return &struct {
			Body HandoverResponse
		}{Body: handoverResponse(res)}, nil
	})
}

// stageAction registers a POST /stages/{id}/<action> that closes or changes
// the stage and answers with the refreshed stage view.
func stageAction[I any](h handlers, api huma.API, id, action, summary string, run func(ctx context.Context, stageID string, in *I, actor auth.Actor) error) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/stages/{id}/" + action,
		Summary:     summary,
		Errors:      gateErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body *I
	}) (*stageOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		in := input.Body
		if in == nil {
			in = new(I)
		}
		if err := run(ctx, input.ID, in, actor); err != nil {
			return nil, h.fail(id, err)
		}
		v, err := h.e.StageDetail(ctx, input.ID)
		if err != nil {
			return nil, h.fail(id, err)
		}
		return &stageOutput{Body: stageDetailResponse(v)}, nil
	})
}

func (h handlers) registerStages(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stage",
		Method:      http.MethodGet,
		Path:        "/stages/{id}",
		Summary:     "Stage with deliverables, artifacts and gate preview",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*stageOutput, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		v, err := h.e.StageDetail(ctx, input.ID)
		if err != nil {
			return nil, h.fail("get-stage", err)
		}
		return &stageOutput{Body: stageDetailResponse(v)}, nil
	})

	stageAction(h, api, "close-stage", "close", "Close the stage if its gate passes",
		func(ctx context.Context, stageID string, _ *struct{}, actor auth.Actor) error {
			return h.e.CloseStage(ctx, stageID, actor)
		})
	stageAction(h, api, "unlock-stage", "unlock", "Start a locked stage early",
		func(ctx context.Context, stageID string, _ *struct{}, actor auth.Actor) error {
			return h.e.UnlockStage(ctx, stageID, actor)
		})
	stageAction(h, api, "complete-site-visit", "site-visit", "Record the site visit log and close the stage",
		func(ctx context.Context, stageID string, in *SiteVisitRequest, actor auth.Actor) error {
			return h.e.CompleteSiteVisit(ctx, engine.SiteVisitCommand{
				StageID:          stageID,
				MeetingHeldAt:    in.MeetingHeldAt,
				MinutesLink:      in.MinutesLink,
				PhotosLink:       in.PhotosLink,
				UpdatedBriefLink: in.UpdatedBriefLink,
			}, actor)
		})
	stageAction(h, api, "request-measurement", "measurement-request", "Request vendor measurement",
		func(ctx context.Context, stageID string, in *MeasurementRequestRequest, actor auth.Actor) error {
			_, err := h.e.RequestMeasurement(ctx, stageID, in.VendorID, actor)
			return err
		})
	stageAction(h, api, "complete-measurement", "measurement", "Approve the measurement package and close the stage",
		func(ctx context.Context, stageID string, in *MeasurementRequest, actor auth.Actor) error {
			return h.e.CompleteMeasurement(ctx, engine.MeasurementCommand{StageID: stageID, PackageLink: in.PackageLink}, actor)
		})
	stageAction(h, api, "complete-qs-handover", "qs-handover", "Record QS validation and close the stage",
		func(ctx context.Context, stageID string, in *QSHandoverRequest, actor auth.Actor) error {
			return h.e.CompleteQSHandover(ctx, engine.QSHandoverCommand{
				StageID:                 stageID,
				CostEstimationSheetLink: in.CostEstimationSheetLink,
				ValidatedBOQLink:        in.ValidatedBOQLink,
			}, actor)
		})
	stageAction(h, api, "add-signoff", "signoffs", "Record an interdisciplinary signoff",
		func(ctx context.Context, stageID string, in *SignoffRequest, actor auth.Actor) error {
			_, err := h.e.AddDisciplineSignoff(ctx, stageID, in.Discipline, actor)
			return err
		})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/stages/{id}/tasks",
		Summary:       "Add an ad-hoc deliverable to a stage",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateTaskRequest
	}) (*taskOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		due, err := parseDate("due_date", input.Body.DueDate)
		if err != nil {
			return nil, err
		}
		t, err := h.e.CreateTask(ctx, engine.TaskCreateOptions{
			StageID: input.ID,
			Title:   input.Body.Title,
			OwnerID: input.Body.OwnerID,
			DueDate: due,
		}, actor)
		if err != nil {
			return nil, h.fail("create-task", err)
		}
		return &taskOutput{Body: t}, nil
	})
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*taskOutput, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		t, err := h.e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, h.fail("get-task", err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      append([]int{http.StatusBadRequest}, readErrors...),
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		StageID   string `query:"stage_id"`
		OwnerID   string `query:"owner_id"`
		Status    string `query:"status" doc:"Comma separated statuses"`
		Limit     int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Task
	}, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.ListTasks(ctx, repo.TaskFilters{
			ProjectID: input.ProjectID,
			StageID:   input.StageID,
			OwnerID:   input.OwnerID,
			Status:    splitList(input.Status),
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.fail("list-tasks", err)
		}
		return &struct {
			Body []domain.Task
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-tasks",
		Method:      http.MethodGet,
		Path:        "/me/tasks",
		Summary:     "Open and revision-requested tasks owned by the caller",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.MyTasks(ctx, actor.ID)
		if err != nil {
			return nil, h.fail("my-tasks", err)
		}
		return &struct {
			Body []domain.Task
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/assign",
		Summary:     "Set owner and due date",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body AssignTaskRequest
	}) (*taskOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		due, err := parseDate("due_date", input.Body.DueDate)
		if err != nil {
			return nil, err
		}
		t, err := h.e.AssignTask(ctx, input.ID, input.Body.OwnerID, due, actor)
		if err != nil {
			return nil, h.fail("assign-task", err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/submit",
		Summary:     "Submit a deliverable and score it",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID             string `path:"id"`
		IdempotencyKey string `header:"Idempotency-Key"`
		Body           *SubmitTaskRequest
	}) (*struct {
		Body SubmitTaskResponse
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.SubmitOptions{TaskID: input.ID, IdempotencyKey: input.IdempotencyKey}
		if input.Body != nil {
			opts.FileLink = input.Body.FileLink
		}
		res, err := h.e.SubmitTask(ctx, opts, actor)
		if err != nil {
			return nil, h.fail("submit-task", err)
		}
		return &struct {
			Body SubmitTaskResponse
		}{Body: submitTaskResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Accept a submission or request a revision",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ReviewTaskRequest
	}) (*taskOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := h.e.ReviewTask(ctx, input.ID, domain.TaskStatus(input.Body.Status), input.Body.Notes, actor)
		if err != nil {
			return nil, h.fail("review-task", err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/verify",
		Summary:     "Document control verification",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*taskOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := h.e.VerifyTask(ctx, input.ID, actor)
		if err != nil {
			return nil, h.fail("verify-task", err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-off-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/sign-off",
		Summary:     "Technical engineer sign-off",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body *SignOffTaskRequest
	}) (*taskOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		notes := ""
		if input.Body != nil {
			notes = input.Body.Notes
		}
		t, err := h.e.SignOffTask(ctx, input.ID, notes, actor)
		if err != nil {
			return nil, h.fail("sign-off-task", err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CommentRequest
	}) (*struct {
		Body domain.Comment
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := h.e.AddComment(ctx, input.ID, input.Body.Text, actor)
		if err != nil {
			return nil, h.fail("add-comment", err)
		}
		return &struct {
			Body domain.Comment
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/comments",
		Summary:     "List task comments",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body []domain.Comment
	}, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.ListComments(ctx, input.ID)
		if err != nil {
			return nil, h.fail("list-comments", err)
		}
		return &struct {
			Body []domain.Comment
		}{Body: nonNilSlice(items)}, nil
	})
}

func (h handlers) registerRequisitions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-requisition",
		Method:        http.MethodPost,
		Path:          "/requisitions",
		Summary:       "Create a material requisition",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateRequisitionRequest
	}) (*requisitionOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		requiredBy, err := parseDate("required_by", input.Body.RequiredBy)
		if err != nil {
			return nil, err
		}
		q, err := h.e.CreateRequisition(ctx, engine.RequisitionCreateOptions{
			ProjectID:    input.Body.ProjectID,
			Number:       input.Body.Number,
			MaterialType: input.Body.MaterialType,
			Urgency:      input.Body.Urgency,
			RequiredBy:   requiredBy,
			Draft:        input.Body.Draft,
		}, actor)
		if err != nil {
			return nil, h.fail("create-requisition", err)
		}
		return &requisitionOutput{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requisitions",
		Method:      http.MethodGet,
		Path:        "/requisitions",
		Summary:     "List requisitions",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body []domain.Requisition
	}, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.ListRequisitions(ctx, repo.RequisitionFilters{ProjectID: input.ProjectID, Status: input.Status})
		if err != nil {
			return nil, h.fail("list-requisitions", err)
		}
		return &struct {
			Body []domain.Requisition
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-requisition",
		Method:      http.MethodGet,
		Path:        "/requisitions/{id}",
		Summary:     "Get requisition",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*requisitionOutput, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		q, err := h.e.GetRequisition(ctx, input.ID)
		if err != nil {
			return nil, h.fail("get-requisition", err)
		}
		return &requisitionOutput{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-requisition",
		Method:      http.MethodPost,
		Path:        "/requisitions/{id}/submit",
		Summary:     "Move a draft into the approval chain",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*requisitionOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		q, err := h.e.SubmitRequisition(ctx, input.ID, actor)
		if err != nil {
			return nil, h.fail("submit-requisition", err)
		}
		return &requisitionOutput{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-approval",
		Method:      http.MethodPost,
		Path:        "/requisitions/{id}/approvals",
		Summary:     "Record an approval decision",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ApprovalRequest
	}) (*requisitionOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		q, err := h.e.SetApproval(ctx, input.ID, domain.ApprovalSlot(input.Body.Slot), domain.ApprovalDecision(input.Body.Decision), actor)
		if err != nil {
			return nil, h.fail("set-approval", err)
		}
		return &requisitionOutput{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-delivery",
		Method:      http.MethodPost,
		Path:        "/requisitions/{id}/deliveries",
		Summary:     "Record a partial or full delivery",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body *DeliveryRequest
	}) (*requisitionOutput, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		partial := input.Body != nil && input.Body.Partial
		q, err := h.e.RecordDelivery(ctx, input.ID, partial, actor)
		if err != nil {
			return nil, h.fail("record-delivery", err)
		}
		return &requisitionOutput{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals/pending",
		Summary:     "Approvals the caller can act on",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PendingApprovalResponse
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.PendingApprovals(ctx, actor)
		if err != nil {
			return nil, h.fail("pending-approvals", err)
		}
		return &struct {
			Body []PendingApprovalResponse
		}{Body: mapPending(items)}, nil
	})
}

func (h handlers) registerDashboard(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Design manager dashboard",
		Description: "Overdue open tasks and per-owner productivity over the configured window.",
		Errors:      append([]int{http.StatusForbidden}, readErrors...),
	}, func(ctx context.Context, input *struct{}) (*struct {
		Body engine.Dashboard
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := h.e.Dashboard(ctx, actor)
		if err != nil {
			return nil, h.fail("get-dashboard", err)
		}
		return &struct {
			Body engine.Dashboard
		}{Body: d}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      append([]int{http.StatusBadRequest}, readErrors...),
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents
	}, error) {
		if _, err := actorFromContext(ctx, h.e); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.e.ListEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, h.fail("list-events", err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents
		}{Body: resp}, nil
	})
}

func (h handlers) registerRBAC(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor roles and permissions",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		who, err := h.e.WhoAmI(ctx, actor)
		if err != nil {
			return nil, h.fail("me", err)
		}
		if p, ok := principalFromContext(ctx); ok {
			who.Roles = mergeRoles(who.Roles, p.Roles)
		}
		return &struct {
			Body WhoAmIResponse
		}{Body: WhoAmIResponse{ActorID: who.ActorID, Roles: nonNilSlice(who.Roles), Permissions: nonNilSlice(who.Permissions)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant role",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest
	}) (*struct{}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		if err := h.e.GrantRole(ctx, input.Body.ActorID, input.Body.RoleID, actor); err != nil {
			return nil, h.fail("grant-role", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest
	}) (*struct{}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		if err := h.e.RevokeRole(ctx, input.Body.ActorID, input.Body.RoleID, actor); err != nil {
			return nil, h.fail("revoke-role", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Mint an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body *CreateAPIKeyRequest
	}) (*struct {
		Body APIKeyResponse
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		var req CreateAPIKeyRequest
		if input.Body != nil {
			req = *input.Body
		}
		k, err := h.e.CreateAPIKey(ctx, req.ActorID, req.Name, actor)
		if err != nil {
			return nil, h.fail("create-api-key", err)
		}
		return &struct {
			Body APIKeyResponse
		}{Body: APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: k.Key, CreatedAt: k.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id" doc:"Admins only; defaults to every key"`
	}) (*struct {
		Body []APIKeySummary
	}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		keys, err := h.e.ListAPIKeys(ctx, input.ActorID, actor)
		if err != nil {
			return nil, h.fail("list-api-keys", err)
		}
		out := make([]APIKeySummary, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeySummary{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeySummary
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Revoke an API key",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, err := actorFromContext(ctx, h.e)
		if err != nil {
			return nil, handleError(err)
		}
		if err := h.e.RevokeAPIKey(ctx, input.ID, actor); err != nil {
			return nil, h.fail("revoke-api-key", err)
		}
		return &struct{}{}, nil
	})
}

func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("%s must be YYYY-MM-DD", field), map[string]any{field: value})
	}
	return &d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mergeRoles(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range append(append([]string{}, a...), b...) {
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
