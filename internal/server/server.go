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
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/engine/auth"
	"agrotasks/internal/repo"
	"agrotasks/internal/scanner"
	"agrotasks/internal/translator"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	Scanner    scanner.Scanner
	Translator *translator.Translator
	// Gatherer backs /metrics. The endpoint is not mounted when nil.
	Gatherer prometheus.Gatherer
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"This action is no longer possible: the task has already been handled."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"reason\":\"accept task 7: status is completed: invalid transition\"}"`
}

// apiError models the error envelope shared by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type localeKey struct{}

type locale struct {
	tr   *translator.Translator
	lang string
}

var supportedLanguages = language.NewMatcher([]language.Tag{language.English, language.Russian})

// New returns an HTTP handler exposing the agrotasks API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
	// Override Huma errors to use the shared envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(context.Background(), status, "", reasonDetails(msg, errs))
	}
	huma.NewErrorWithContext = func(hctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures are malformed requests, not refused commands.
			status = http.StatusBadRequest
		}
		ctx := context.Background()
		if hctx != nil {
			ctx = hctx.Context()
		}
		return newAPIError(ctx, status, "", reasonDetails(msg, errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(localeMiddleware(cfg.Translator))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	hcfg := huma.DefaultConfig("Agrotasks API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	api.OpenAPI().Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerTaskActions(group, cfg.Engine)
	registerInbox(group, cfg.Engine)
	registerFines(group, cfg.Engine)
	registerSweep(group, cfg.Scanner)
	registerEmployees(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// newAPIError builds the envelope for code, with the message rendered in
// the request's language.
func newAPIError(ctx context.Context, status int, code string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: localizedMessage(ctx, code, status),
			Details: details,
		},
	}
}

func localizedMessage(ctx context.Context, code string, status int) string {
	if l, ok := ctx.Value(localeKey{}).(locale); ok && l.tr != nil {
		if msg := l.tr.Error(l.lang, code); msg != "error."+code {
			return msg
		}
	}
	return http.StatusText(status)
}

func reasonDetails(msg string, errs []error) map[string]any {
	details := map[string]any{}
	if msg != "" {
		details["reason"] = msg
	}
	if len(errs) > 0 {
		details["errors"] = errs
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

var statusForCode = map[string]int{
	"not_found":          http.StatusNotFound,
	"invalid_transition": http.StatusConflict,
	"validation_failed":  http.StatusUnprocessableEntity,
	"forbidden":          http.StatusForbidden,
	"store_unavailable":  http.StatusServiceUnavailable,
	"internal":           http.StatusInternalServerError,
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	code := engine.ErrorCode(err)
	var details map[string]any
	switch code {
	case "internal", "store_unavailable":
		// Storage errors stay in the server log.
	default:
		details = map[string]any{"reason": err.Error()}
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) && details != nil {
		details["action"] = fe.Action
	}
	return newAPIError(ctx, statusForCode[code], code, details)
}

func badRequest(ctx context.Context, reason string) huma.StatusError {
	return newAPIError(ctx, http.StatusBadRequest, "bad_request", map[string]any{"reason": reason})
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
		return "invalid_transition"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// localeMiddleware picks the response language from Accept-Language,
// falling back to the configured locale.
func localeMiddleware(tr *translator.Translator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := locale{tr: tr}
			if tr != nil {
				l.lang = tr.Lang()
			}
			if header := r.Header.Get("Accept-Language"); header != "" {
				tag, _ := language.MatchStrings(supportedLanguages, header)
				base, _ := tag.Base()
				l.lang = base.String()
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), localeKey{}, l)))
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", id)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
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
	oas.Components.SecuritySchemes["employeeHeader"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Employee-Id",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"employeeHeader": {}},
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
    <title>Agrotasks API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

type taskOutput struct {
	Body TaskResponse `json:"body"`
}

type taskListOutput struct {
	Body []TaskResponse `json:"body"`
}

type fineOutput struct {
	Body FineResponse `json:"body"`
}

var commandErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
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

// requireParticipant lets the assigner, the assignee and administrators
// read a task.
func requireParticipant(ctx context.Context, e engine.Engine, t domain.Task, actorID int64) error {
	if actorID == t.AssignedTo || actorID == t.AssignedBy {
		return nil
	}
	return e.RequireAdmin(ctx, actorID, "viewing another employee's task")
}

func visibleTask(ctx context.Context, e engine.Engine, taskID int64) (domain.Task, int64, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return domain.Task{}, 0, authErr
	}
	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return t, actorID, handleError(ctx, err)
	}
	if err := requireParticipant(ctx, e, t, actorID); err != nil {
		return t, actorID, handleError(ctx, err)
	}
	return t, actorID, nil
}

func parseDateParam(ctx context.Context, name, value string) (time.Time, error) {
	d, err := domain.ParseDate(value)
	if err != nil {
		return time.Time{}, badRequest(ctx, fmt.Sprintf("%s must be YYYY-MM-DD", name))
	}
	return d, nil
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        commandErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		deadline, err := parseDateParam(ctx, "deadline", input.Body.Deadline)
		if err != nil {
			return nil, err
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Attachment:  input.Body.Attachment.domain(),
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			Deadline:    deadline,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Description: "Non-administrators only see tasks they assigned or were assigned.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AssignedTo int64  `query:"assigned_to"`
		AssignedBy int64  `query:"assigned_by"`
		Status     string `query:"status" doc:"Comma separated statuses"`
		Limit      int    `query:"limit" default:"50"`
	}) (*taskListOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.TaskFilters{AssignedTo: input.AssignedTo, AssignedBy: input.AssignedBy, Limit: normalizeLimit(input.Limit)}
		for _, s := range strings.Split(input.Status, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			status := domain.Status(s)
			if !status.Valid() {
				return nil, badRequest(ctx, fmt.Sprintf("unknown status %q", s))
			}
			f.Statuses = append(f.Statuses, status)
		}
		if f.AssignedTo != actorID && f.AssignedBy != actorID {
			admin, err := e.IsAdmin(ctx, actorID)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			if !admin {
				if f.AssignedTo != 0 || f.AssignedBy != 0 {
					return nil, handleError(ctx, auth.ForbiddenError{Action: "listing other employees' tasks"})
				}
				f.AssignedTo = actorID
			}
		}
		items, err := e.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskListOutput{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*taskOutput, error) {
		t, _, err := visibleTask(ctx, e, input.ID)
		if err != nil {
			return nil, err
		}
		return &taskOutput{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-reports",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/reports",
		Summary:     "List completion reports of a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.TaskReport `json:"body"`
	}, error) {
		if _, _, err := visibleTask(ctx, e, input.ID); err != nil {
			return nil, err
		}
		items, err := e.Reports(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.TaskReport{}
		}
		return &struct {
			Body []domain.TaskReport `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-events",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/events",
		Summary:     "List audit events of a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    int64 `path:"id"`
		Limit int   `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, _, err := visibleTask(ctx, e, input.ID); err != nil {
			return nil, err
		}
		items, err := e.Events(ctx, repo.EventFilters{TaskID: input.ID, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-delegation-candidates",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/candidates",
		Summary:     "List employees the task can be delegated to",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Employee `json:"body"`
	}, error) {
		_, actorID, err := visibleTask(ctx, e, input.ID)
		if err != nil {
			return nil, err
		}
		items, err := e.DelegationCandidates(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Employee `json:"body"`
		}{Body: items}, nil
	})
}

func taskActionOperation(id, action, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/" + action,
		Summary:     summary,
		Errors:      commandErrors,
	}
}

// registerTaskAction registers a command whose result is the updated task.
func registerTaskAction[I any](api huma.API, op huma.Operation, run func(ctx context.Context, input *I, actorID int64) (domain.Task, error)) {
	huma.Register(api, op, func(ctx context.Context, input *I) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := run(ctx, input, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: taskResponse(t)}, nil
	})
}

type taskPath struct {
	ID int64 `path:"id"`
}

func registerTaskActions(api huma.API, e engine.Engine) {
	registerTaskAction(api, taskActionOperation("accept-task", "accept", "Accept task"),
		func(ctx context.Context, in *taskPath, actorID int64) (domain.Task, error) {
			return e.Accept(ctx, in.ID, actorID)
		})

	registerTaskAction(api, taskActionOperation("reject-task", "reject", "Reject task"),
		func(ctx context.Context, in *struct {
			ID   int64             `path:"id"`
			Body RejectTaskRequest `json:"body"`
		}, actorID int64) (domain.Task, error) {
			return e.Reject(ctx, in.ID, actorID, in.Body.Comment)
		})

	registerTaskAction(api, taskActionOperation("delegate-task", "delegate", "Delegate task to another employee"),
		func(ctx context.Context, in *struct {
			ID   int64               `path:"id"`
			Body DelegateTaskRequest `json:"body"`
		}, actorID int64) (domain.Task, error) {
			return e.Delegate(ctx, in.ID, in.Body.AssigneeID, actorID)
		})

	registerTaskAction(api, taskActionOperation("extend-task", "extend", "Extend task deadline"),
		func(ctx context.Context, in *struct {
			ID   int64              `path:"id"`
			Body *ExtendTaskRequest `json:"body,omitempty" required:"false"`
		}, actorID int64) (domain.Task, error) {
			var until time.Time
			if in.Body != nil && in.Body.Until != "" {
				d, err := parseDateParam(ctx, "until", in.Body.Until)
				if err != nil {
					return domain.Task{}, err
				}
				until = d
			}
			return e.ExtendDeadline(ctx, in.ID, actorID, until)
		})

	registerTaskAction(api, taskActionOperation("complete-task", "complete", "Report task as done"),
		func(ctx context.Context, in *struct {
			ID   int64                `path:"id"`
			Body *CompleteTaskRequest `json:"body,omitempty" required:"false"`
		}, actorID int64) (domain.Task, error) {
			var report engine.Report
			if in.Body != nil {
				report = engine.Report{Text: in.Body.Text, Attachment: in.Body.Attachment.domain()}
			}
			return e.Complete(ctx, in.ID, actorID, report)
		})

	registerTaskAction(api, taskActionOperation("confirm-task", "confirm", "Confirm completed task"),
		func(ctx context.Context, in *taskPath, actorID int64) (domain.Task, error) {
			return e.Confirm(ctx, in.ID, actorID)
		})

	registerTaskAction(api, taskActionOperation("return-task", "return", "Return task for rework"),
		func(ctx context.Context, in *taskPath, actorID int64) (domain.Task, error) {
			return e.Return(ctx, in.ID, actorID)
		})
}

func registerInbox(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "inbox",
		Method:      http.MethodGet,
		Path:        "/inbox",
		Summary:     "Tasks waiting for the caller",
	}, func(ctx context.Context, _ *struct{}) (*taskListOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Inbox(ctx, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskListOutput{Body: mapTasks(items)}, nil
	})
}

func registerFines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-fines",
		Method:      http.MethodGet,
		Path:        "/fines",
		Summary:     "List fines",
		Description: "Non-administrators only see their own fines.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID int64  `query:"user_id"`
		TaskID int64  `query:"task_id"`
		Status string `query:"status" enum:"pending,confirmed,canceled"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []FineResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.FineFilters{UserID: input.UserID, TaskID: input.TaskID, Status: domain.FineStatus(input.Status), Limit: normalizeLimit(input.Limit)}
		if f.UserID != actorID {
			admin, err := e.IsAdmin(ctx, actorID)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			if !admin {
				if f.UserID != 0 {
					return nil, handleError(ctx, auth.ForbiddenError{Action: "viewing other employees' fines"})
				}
				f.UserID = actorID
			}
		}
		items, err := e.ListFines(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		out := make([]FineResponse, 0, len(items))
		for _, fine := range items {
			out = append(out, fineResponse(fine))
		}
		return &struct {
			Body []FineResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-fine",
		Method:        http.MethodPost,
		Path:          "/fines",
		Summary:       "Issue a fine",
		DefaultStatus: http.StatusCreated,
		Errors:        commandErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateFineRequest `json:"body"`
	}) (*fineOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := engine.ParseAmount(input.Body.Amount)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		fine, err := e.AddFine(ctx, engine.FineOptions{
			UserID:  input.Body.UserID,
			Amount:  amount,
			Reason:  input.Body.Reason,
			TaskID:  input.Body.TaskID,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &fineOutput{Body: fineResponse(fine)}, nil
	})

	resolve := func(id, action, summary string, run func(context.Context, int64, int64) (domain.Fine, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        "/fines/{id}/" + action,
			Summary:     summary,
			Errors:      commandErrors,
		}, func(ctx context.Context, input *struct {
			ID int64 `path:"id"`
		}) (*fineOutput, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			fine, err := run(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			return &fineOutput{Body: fineResponse(fine)}, nil
		})
	}
	resolve("confirm-fine", "confirm", "Confirm a pending fine", e.ConfirmFine)
	resolve("cancel-fine", "cancel", "Cancel a pending fine", e.CancelFine)
}

func registerSweep(api huma.API, sc scanner.Scanner) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Expire overdue tasks now",
		Description: "Runs the deadline scan for the given date, today by default. Administrators only.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body *SweepRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := sc.Engine.RequireAdmin(ctx, actorID, "running the deadline scan"); err != nil {
			return nil, handleError(ctx, err)
		}
		day := sc.Engine.Today()
		if input.Body != nil && input.Body.Date != "" {
			d, err := parseDateParam(ctx, "date", input.Body.Date)
			if err != nil {
				return nil, err
			}
			day = d
		}
		expired, err := sc.Sweep(ctx, day)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if expired == nil {
			expired = []int64{}
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Date: day.Format(domain.DateLayout), Expired: expired}}, nil
	})
}

func registerEmployees(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-employees",
		Method:      http.MethodGet,
		Path:        "/employees",
		Summary:     "List employees",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Employee `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEmployees(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Employee `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "employee-stats",
		Method:      http.MethodGet,
		Path:        "/employees/{id}/stats",
		Summary:     "Monthly statistics of an employee",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID    int64  `path:"id"`
		Month string `query:"month" doc:"YYYY-MM, current month when empty"`
	}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.ID != actorID {
			if err := e.RequireAdmin(ctx, actorID, "viewing another employee's statistics"); err != nil {
				return nil, handleError(ctx, err)
			}
		}
		day := e.Today()
		if input.Month != "" {
			m, err := time.Parse("2006-01", input.Month)
			if err != nil {
				return nil, badRequest(ctx, "month must be YYYY-MM")
			}
			day = m
		}
		stats, err := e.MonthStats(ctx, input.ID, day)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: statsResponse(stats)}, nil
	})
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
