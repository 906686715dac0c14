// Package web serves the dashboard: the route table, the analysis pages
// backed by one form controller per browser session, and the chart list.
package web

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/config"
	errs "bi-workers/internal/common/errors"
	"bi-workers/internal/common/logger"
	"bi-workers/internal/common/validation"
	"bi-workers/internal/form"
	"bi-workers/internal/store"
	"bi-workers/internal/upload"
)

const (
	adminTokenHeader = "X-Admin-Token"
	adminTokenCookie = "bi_admin"

	// myChartLimit caps the chart list page.
	myChartLimit = 50
)

// Async page texts.
const (
	MsgAsyncSubmitted   = "分析任务提交成功,稍后请在我的图表页面查看"
	ReasonAsyncDisabled = "异步分析未启用"
	NoticeStoreDisabled = "图表存储未启用"
)

// ChartStore is the part of the chart repository the pages need.
type ChartStore interface {
	Create(ctx context.Context, c *store.Chart) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status chart.Status, execMessage string) error
	List(ctx context.Context, userID string, limit int) ([]store.Chart, error)
}

// Dispatcher starts the async generation process for a stored chart.
type Dispatcher interface {
	StartGeneration(ctx context.Context, chartID int64) (int64, error)
}

// Deps are the collaborators of a Server. Charts, History and Dispatcher are
// optional; the pages that need them degrade to a notice.
type Deps struct {
	Config     *config.Config
	Generator  form.Generator
	Inspector  form.UploadInspector
	Recorder   form.Recorder
	History    form.History
	Charts     ChartStore
	Dispatcher Dispatcher
	Logger     logger.Logger
}

type Server struct {
	cfg      config.ServerConfig
	upload   config.UploadConfig
	deps     Deps
	sessions *Sessions
	pages    *renderer
	logger   logger.Logger
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("web: config is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("web: generator is required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.With(map[string]interface{}{"component": "web"})

	pages, err := newRenderer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    deps.Config.Server,
		upload: deps.Config.Upload,
		deps:   deps,
		pages:  pages,
		logger: log,
	}
	s.sessions = NewSessions(func(sessionID string, notify form.Notifier) *form.Controller {
		return form.NewController(deps.Generator, notify, form.Options{
			Inspector: deps.Inspector,
			Recorder:  deps.Recorder,
			History:   deps.History,
			Logger:    log.With(map[string]interface{}{"session": sessionID}),
			UserID:    sessionID,
		})
	})
	return s, nil
}

func (s *Server) Sessions() *Sessions { return s.sessions }

// RegisterRoutes adds the form actions and the page dispatcher to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /add", s.handleSubmit)
	mux.HandleFunc("POST /add/reset", s.handleReset(componentAdd))
	mux.HandleFunc("GET /add/view.json", s.handleViewJSON)
	mux.HandleFunc("POST /add_async", s.handleSubmitAsync)
	mux.HandleFunc("POST /add_async/reset", s.handleReset(componentAddAsync))
	mux.HandleFunc("/", s.handlePage)
}

// Handler returns the dashboard with request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.loggingMiddleware(s.recoveryMiddleware(mux))
}

// ==========================
// Pages
// ==========================

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	route := Resolve(r.URL.Path)
	if route.Access == accessCanAdmin && !s.canAdmin(r) {
		s.pages.render(w, http.StatusForbidden, componentForbidden, &pageData{Title: "403"})
		return
	}
	if route.Redirect != "" {
		http.Redirect(w, r, route.Redirect, http.StatusFound)
		return
	}

	switch route.Component {
	case componentAdd:
		s.renderAdd(w, r, s.sessions.Get(w, r), http.StatusOK, nil)
	case componentAddAsync:
		s.renderAddAsync(w, r, s.sessions.Get(w, r), http.StatusOK, nil)
	case componentMyChart:
		s.renderMyChart(w, r)
	case componentWelcome, componentAdmin:
		s.pages.render(w, http.StatusOK, route.Component, s.layoutData(s.sessions.Get(w, r), r, route))
	case componentLogin, componentRegister:
		s.pages.render(w, http.StatusOK, route.Component, &pageData{Title: route.Component})
	default:
		s.pages.render(w, http.StatusNotFound, componentNotFound, &pageData{Title: "404"})
	}
}

func (s *Server) layoutData(sess *Session, r *http.Request, route Route) *pageData {
	return &pageData{
		Title:       route.Name,
		Menu:        Menu(route.Path, s.canAdmin(r)),
		Toasts:      sess.Toasts.Drain(),
		ChartTypes:  chart.ChartTypes,
		Placeholder: form.Placeholder,
	}
}

func (s *Server) renderAdd(w http.ResponseWriter, r *http.Request, sess *Session, status int, fieldErrors map[string]string) {
	data := s.layoutData(sess, r, Resolve("/add"))
	data.Values = sess.Values(componentAdd)
	data.Errors = fieldErrors
	data.View = sess.Form.View()
	if data.View.State == form.StateSubmitting {
		data.Refresh = s.cfg.RefreshSeconds
	}
	s.pages.render(w, status, componentAdd, data)
}

func (s *Server) renderAddAsync(w http.ResponseWriter, r *http.Request, sess *Session, status int, fieldErrors map[string]string) {
	data := s.layoutData(sess, r, Resolve("/add_async"))
	data.Values = sess.Values(componentAddAsync)
	data.Errors = fieldErrors
	if !s.asyncEnabled() {
		data.Notice = ReasonAsyncDisabled
	}
	s.pages.render(w, status, componentAddAsync, data)
}

func (s *Server) renderMyChart(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(w, r)
	data := s.layoutData(sess, r, Resolve("/myChart"))

	if s.deps.Charts == nil {
		data.Notice = NoticeStoreDisabled
		s.pages.render(w, http.StatusOK, componentMyChart, data)
		return
	}

	charts, err := s.deps.Charts.List(r.Context(), sess.ID, myChartLimit)
	if err != nil {
		s.logger.Error("Failed to list charts", map[string]interface{}{"error": err.Error()})
		data.Notice = errs.FailureNotification(err)
		s.pages.render(w, http.StatusInternalServerError, componentMyChart, data)
		return
	}

	pending := false
	for i := range charts {
		data.Charts = append(data.Charts, newChartCard(&charts[i]))
		if !charts[i].Status.Terminal() {
			pending = true
		}
	}
	if pending {
		data.Refresh = s.cfg.RefreshSeconds
	}
	s.pages.render(w, http.StatusOK, componentMyChart, data)
}

// ==========================
// Form actions
// ==========================

// handleSubmit starts an interactive analysis and sends the browser back to
// the page, which polls while the submission is in flight.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(w, r)

	in, fieldErrors, err := s.readForm(w, r)
	if err != nil {
		s.logger.Warn("Failed to read analysis form", map[string]interface{}{"error": err.Error()})
		s.renderAdd(w, r, sess, http.StatusBadRequest, uploadFieldError(err))
		return
	}
	sess.SetValues(componentAdd, valuesOf(in))
	if len(fieldErrors) > 0 {
		s.renderAdd(w, r, sess, http.StatusUnprocessableEntity, fieldErrors)
		return
	}

	// the submission outlives this request
	sess.Form.Start(context.WithoutCancel(r.Context()), in)
	http.Redirect(w, r, "/add", http.StatusSeeOther)
}

// handleSubmitAsync stores the request as a waiting chart and starts the
// generation process.
func (s *Server) handleSubmitAsync(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(w, r)

	in, fieldErrors, err := s.readForm(w, r)
	if err != nil {
		s.logger.Warn("Failed to read async analysis form", map[string]interface{}{"error": err.Error()})
		s.renderAddAsync(w, r, sess, http.StatusBadRequest, uploadFieldError(err))
		return
	}
	sess.SetValues(componentAddAsync, valuesOf(in))
	if len(fieldErrors) > 0 {
		s.renderAddAsync(w, r, sess, http.StatusUnprocessableEntity, fieldErrors)
		return
	}

	if err := s.enqueue(r.Context(), sess.ID, in); err != nil {
		sess.Toasts.Error(errs.FailureNotification(err))
	} else {
		sess.Toasts.Success(MsgAsyncSubmitted)
		sess.Reset(componentAddAsync)
	}
	http.Redirect(w, r, "/add_async", http.StatusSeeOther)
}

func (s *Server) enqueue(ctx context.Context, userID string, in chart.FormInput) error {
	if !s.asyncEnabled() {
		return errs.NewDispatchFailedError(stderrors.New(ReasonAsyncDisabled))
	}
	if in.File != nil && s.deps.Inspector != nil {
		if _, err := s.deps.Inspector.Inspect(in.File); err != nil {
			return err
		}
	}

	c := &store.Chart{
		UserID:    userID,
		Goal:      in.Goal,
		Name:      in.Name,
		ChartType: in.ChartType,
		Status:    chart.StatusWait,
	}
	if in.File != nil {
		c.DataFilename = in.File.Filename
		c.ChartData = in.File.Content
	}

	id, err := s.deps.Charts.Create(ctx, c)
	if err != nil {
		return err
	}

	if _, err := s.deps.Dispatcher.StartGeneration(ctx, id); err != nil {
		if updErr := s.deps.Charts.UpdateStatus(ctx, id, chart.StatusFailed, errs.FailureNotification(err)); updErr != nil {
			s.logger.Error("Failed to mark chart failed", map[string]interface{}{
				"chartId": id,
				"error":   updErr.Error(),
			})
		}
		return err
	}

	s.logger.Info("Async analysis queued", map[string]interface{}{"chartId": id, "session": userID})
	return nil
}

func (s *Server) handleReset(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sessions.Get(w, r).Reset(page)
		target := "/add"
		if page == componentAddAsync {
			target = "/add_async"
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

func (s *Server) handleViewJSON(w http.ResponseWriter, r *http.Request) {
	v := s.sessions.Get(w, r).Form.View()
	writeJSON(w, http.StatusOK, viewJSON{
		State:      v.State.String(),
		Conclusion: v.Conclusion.Text,
		Option:     v.Chart.Option,
		Loading:    v.Submit.Loading,
	})
}

// readForm decodes the multipart form. A non-nil error means the body itself
// could not be read; field problems come back in the map.
func (s *Server) readForm(w http.ResponseWriter, r *http.Request) (chart.FormInput, map[string]string, error) {
	limit := s.upload.MaxBytes + 1<<20
	if r.ContentLength > limit {
		return chart.FormInput{}, nil, &http.MaxBytesError{Limit: limit}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil && !stderrors.Is(err, http.ErrNotMultipart) {
		return chart.FormInput{}, nil, err
	}

	in := chart.FormInput{
		Goal:      r.FormValue("goal"),
		Name:      r.FormValue("name"),
		ChartType: chart.ChartType(r.FormValue("chartType")),
	}

	file, err := readUpload(r)
	if err != nil {
		return in, nil, err
	}
	in.File = file

	vr, err := validation.ValidateForm(in.Fields())
	if err != nil {
		return in, nil, err
	}
	if !vr.Valid {
		return in, vr.FieldMessages(), nil
	}
	return in, nil, nil
}

// readUpload returns the single "file" part, or nil when none was chosen.
func readUpload(r *http.Request) (*chart.Upload, error) {
	f, hdr, err := r.FormFile("file")
	if stderrors.Is(err, http.ErrMissingFile) || stderrors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if hdr.Filename == "" {
		return nil, nil
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &chart.Upload{Filename: hdr.Filename, Content: content}, nil
}

func uploadFieldError(err error) map[string]string {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return map[string]string{"file": upload.ReasonTooLarge}
	}
	return map[string]string{"file": upload.ReasonUnreadable}
}

func valuesOf(in chart.FormInput) FormValues {
	return FormValues{Goal: in.Goal, Name: in.Name, ChartType: string(in.ChartType)}
}

func (s *Server) asyncEnabled() bool {
	return s.deps.Charts != nil && s.deps.Dispatcher != nil
}

// canAdmin grants the admin routes to callers presenting the configured token.
func (s *Server) canAdmin(r *http.Request) bool {
	if s.cfg.AdminToken == "" {
		return false
	}
	if r.Header.Get(adminTokenHeader) == s.cfg.AdminToken {
		return true
	}
	c, err := r.Cookie(adminTokenCookie)
	return err == nil && c.Value == s.cfg.AdminToken
}

// ==========================
// Middleware
// ==========================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)
		s.logger.Debug("HTTP request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic recovered", map[string]interface{}{"panic": fmt.Sprint(rec)})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
