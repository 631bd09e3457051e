package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"nudge-core/domain"
)

const maxBodySize = 1 << 20

// Server exposes the task collection over HTTP. It owns the coordinating
// lock the repository itself does not carry: every handler that touches the
// repository does so under mu.
type Server struct {
	mu     sync.Mutex
	repo   *domain.Repository
	ingest Ingestor
	syncer Syncer
	auth   Authenticator
	log    *log.Logger
}

// NewServer wires the HTTP surface. ingest, syncer and auth may be nil when
// the deployment does not carry those paths.
func NewServer(repo *domain.Repository, ingest Ingestor, syncer Syncer, auth Authenticator, logger *log.Logger) *Server {
	if repo == nil {
		panic("api.NewServer: repository is nil")
	}
	return &Server{repo: repo, ingest: ingest, syncer: syncer, auth: auth, log: logger}
}

// SetSyncer attaches the sync trigger after construction. The trigger is
// built around SyncLocal, which needs the server first, so sync wiring
// happens in two steps. Call before Register.
func (s *Server) SetSyncer(sy Syncer) {
	s.syncer = sy
}

// Register wires up all API routes on the provided Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/api/tasks", s.getTasks)
	e.GET("/api/tasks/next", s.getNextTask)
	e.GET("/api/tasks/count", s.getTaskCount)
	e.POST("/api/tasks", s.postTask)
	e.POST("/api/tasks/:id/done", s.postDone)
	e.POST("/api/tasks/:id/undo", s.postUndo)
	e.POST("/api/tasks/:id/snooze", s.postSnooze)
	e.POST("/api/tasks/:id/drop", s.postDrop)
	e.POST("/api/tasks/:id/skip", s.postSkip)
	e.POST("/api/ingest", s.postIngest)
	e.POST("/api/mailbox", s.postMailbox)
	e.POST("/api/mailbox/drain", s.postMailboxDrain)
	e.POST("/api/sync", s.postSync)
	e.GET("/healthz", s.healthz)
}

func (s *Server) authenticate(c echo.Context) error {
	if s.auth == nil {
		return nil
	}
	_, err := s.auth.DeviceIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	return err
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) getTasks(c echo.Context) (err error) {
	metrics := newBoardRequestMetrics(s.log)
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	if authErr := s.authenticate(c); authErr != nil {
		metrics.SetErrorStage("auth")
		err = c.String(http.StatusUnauthorized, authErr.Error())
		return err
	}

	fetchStart := time.Now()
	s.mu.Lock()
	grouped := s.repo.FetchAllGrouped()
	s.mu.Unlock()
	metrics.ObserveFetch(time.Since(fetchStart))
	metrics.SetCounts(len(grouped.Active), len(grouped.Snoozed), len(grouped.DoneToday))

	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, grouped)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func (s *Server) getNextTask(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	s.mu.Lock()
	task, ok := s.repo.FetchNextItem()
	s.mu.Unlock()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) getTaskCount(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	s.mu.Lock()
	active := s.repo.ActiveCount()
	saved := s.repo.SavedItemCount()
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]int{"active": active, "saved": saved})
}

type createTaskRequest struct {
	Content string `json:"content"`
}

func (s *Server) postTask(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req createTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	s.mu.Lock()
	task, err := s.repo.CreateManual(c.Request().Context(), req.Content)
	s.mu.Unlock()
	if err != nil && !isPersistError(err) {
		if errors.Is(err, domain.ErrEmptyContent) {
			return c.String(http.StatusBadRequest, "content must not be empty")
		}
		return s.internalError(c, err)
	}
	s.notifySync()
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) postDone(c echo.Context) error {
	return s.transition(c, func(id string) (*domain.Task, error) {
		return s.repo.MarkDone(c.Request().Context(), id)
	})
}

type undoRequest struct {
	SortOrder *int `json:"sortOrder"`
}

func (s *Server) postUndo(c echo.Context) error {
	var req undoRequest
	if err := decodeBody(c, &req); err != nil && err != io.EOF {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	return s.transition(c, func(id string) (*domain.Task, error) {
		order := 0
		if req.SortOrder != nil {
			order = *req.SortOrder
		} else if current, ok := s.repo.Get(id); ok {
			order = current.SortOrder
		}
		return s.repo.UndoDone(c.Request().Context(), id, order)
	})
}

type snoozeRequest struct {
	Until string `json:"until"`
}

func (s *Server) postSnooze(c echo.Context) error {
	var req snoozeRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	until, err := time.Parse(time.RFC3339, req.Until)
	if err != nil {
		return c.String(http.StatusBadRequest, "until must be RFC 3339")
	}
	return s.transition(c, func(id string) (*domain.Task, error) {
		return s.repo.Snooze(c.Request().Context(), id, until)
	})
}

func (s *Server) postDrop(c echo.Context) error {
	return s.transition(c, func(id string) (*domain.Task, error) {
		return s.repo.Drop(c.Request().Context(), id)
	})
}

type skipRequest struct {
	SortOrder int `json:"sortOrder"`
}

func (s *Server) postSkip(c echo.Context) error {
	var req skipRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	return s.transition(c, func(id string) (*domain.Task, error) {
		return s.repo.Skip(c.Request().Context(), id, req.SortOrder)
	})
}

// transition runs one state change under the lock and maps its outcome. A
// failed persist still returns the task: the in-memory record carries the
// transition and the client stays responsive.
func (s *Server) transition(c echo.Context, op func(id string) (*domain.Task, error)) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id := c.Param("id")
	s.mu.Lock()
	task, err := op(id)
	s.mu.Unlock()
	if err != nil && !isPersistError(err) {
		if errors.Is(err, domain.ErrNotFound) {
			return c.String(http.StatusNotFound, "no such task")
		}
		return s.internalError(c, err)
	}
	s.notifySync()
	return c.JSON(http.StatusOK, task)
}

type ingestRequest struct {
	Transcript string `json:"transcript"`
}

type ingestResponse struct {
	Dump  *domain.BrainDump `json:"dump"`
	Tasks []domain.Task     `json:"tasks"`
}

func (s *Server) postIngest(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if s.ingest == nil {
		return c.String(http.StatusNotImplemented, "no ingestion configured")
	}
	var req ingestRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}

	s.mu.Lock()
	dump, tasks, err := s.ingest.IngestTranscript(c.Request().Context(), req.Transcript)
	s.mu.Unlock()
	if err != nil && !isPersistError(err) {
		if errors.Is(err, domain.ErrEmptyContent) {
			return c.String(http.StatusBadRequest, "transcript must not be empty")
		}
		var denied *domain.AdmissionDeniedError
		if errors.As(err, &denied) {
			return c.JSON(http.StatusTooManyRequests, denied)
		}
		return s.internalError(c, err)
	}
	s.notifySync()
	return c.JSON(http.StatusCreated, ingestResponse{Dump: dump, Tasks: tasks})
}

func (s *Server) postMailbox(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if s.ingest == nil {
		return c.String(http.StatusNotImplemented, "no mailbox configured")
	}
	var p domain.SharePayload
	if err := decodeBody(c, &p); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := s.ingest.SaveShare(c.Request().Context(), p); err != nil {
		if errors.Is(err, domain.ErrEmptyContent) {
			return c.String(http.StatusBadRequest, "payload carries no content")
		}
		return s.internalError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) postMailboxDrain(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if s.ingest == nil {
		return c.String(http.StatusNotImplemented, "no mailbox configured")
	}
	s.mu.Lock()
	res, err := s.ingest.DrainMailbox(c.Request().Context())
	s.mu.Unlock()
	if err != nil && !isPersistError(err) {
		if errors.Is(err, domain.ErrAdmissionDenied) {
			return c.JSON(http.StatusTooManyRequests, res)
		}
		return s.internalError(c, err)
	}
	s.notifySync()
	return c.JSON(http.StatusOK, res)
}

func (s *Server) postSync(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if s.syncer == nil {
		return c.String(http.StatusNotImplemented, "no sync configured")
	}
	// The reconciler reaches the repository through SyncLocal and takes the
	// lock itself; holding it here would deadlock the cycle.
	res, err := s.syncer.Foreground(c.Request().Context())
	if err != nil {
		s.log.WithError(err).Error("foreground sync failed")
		return c.String(http.StatusBadGateway, "sync failed")
	}
	return c.JSON(http.StatusOK, res)
}

// RunSweeper periodically resurfaces snoozed tasks whose wake-up time has
// passed. It takes the same lock the handlers use, so it runs as the
// server's background companion rather than a free-standing loop.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			n, err := s.repo.ResurfaceExpiredSnoozes(ctx)
			s.mu.Unlock()
			if err != nil {
				s.log.WithError(err).Error("resurface sweep failed")
			}
			if n > 0 {
				s.log.WithField("resurfaced", n).Info("snoozed tasks woke up")
				s.notifySync()
			}
		}
	}
}

func (s *Server) notifySync() {
	if s.syncer != nil {
		s.syncer.Notify()
	}
}

func (s *Server) internalError(c echo.Context, err error) error {
	s.log.WithError(err).Error("request failed")
	return c.String(http.StatusInternalServerError, err.Error())
}

func isPersistError(err error) bool {
	var pe *domain.PersistError
	return errors.As(err, &pe)
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
