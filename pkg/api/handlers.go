package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/llamafarm/llamafarm/pkg/broker"
	"github.com/llamafarm/llamafarm/pkg/resultstore"
	"github.com/llamafarm/llamafarm/pkg/types"
)

// taskResponse is the wire shape of a polled task. Failure lives in
// error; a failed job is still HTTP 200, never a 5xx.
type taskResponse struct {
	TaskID   string            `json:"task_id"`
	State    types.TaskState   `json:"state"`
	Result   interface{}       `json:"result,omitempty"`
	Error    *types.Failure    `json:"error,omitempty"`
	Children []string          `json:"children,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func toTaskResponse(rec *types.TaskRecord) taskResponse {
	resp := taskResponse{
		TaskID:   rec.TaskID,
		State:    rec.State,
		Children: rec.Children,
		Metadata: rec.Metadata,
	}
	if len(rec.Result) > 0 {
		resp.Result = json.RawMessage(rec.Result)
	}
	switch rec.State {
	case types.TaskStateFailure:
		resp.Error = &types.Failure{Code: types.CodeHandler, Message: rec.Traceback}
	case types.TaskStateRevoked:
		resp.Error = &types.Failure{Code: types.CodeRevoked, Message: "task revoked"}
	}
	return resp
}

type ingestRequest struct {
	SourcePath string `json:"source_path,omitempty"`
	Dataset    string `json:"dataset,omitempty"`
}

// handleIngest dispatches an ingest job and answers 202 immediately;
// progress and outcome flow through the task record.
func (s *Server) handleIngest(c echo.Context) error {
	m, err := s.loadManifest()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if m.Namespace != c.Param("namespace") || m.Name != c.Param("name") {
		return echo.NewHTTPError(http.StatusNotFound, "unknown project")
	}

	database := c.Param("database")
	if _, err := m.Database(database); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	source := req.SourcePath
	if source == "" {
		for _, ds := range m.Datasets {
			if ds.Database == database && (req.Dataset == "" || ds.Name == req.Dataset) {
				source = ds.Source
				break
			}
		}
	}
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no source path: pass source_path or configure a dataset")
	}

	sig, err := broker.BuildSignature("rag.ingest_file", map[string]string{
		"source_path": source,
		"database":    database,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	metadata := map[string]string{
		"namespace": m.Namespace,
		"project":   m.Name,
		"database":  database,
	}
	if session := c.Request().Header.Get("X-Session-ID"); session != "" {
		metadata["session_id"] = session
	}
	handle, err := s.broker.DispatchWithMetadata(sig, metadata)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"task_id": handle.TaskID})
}

func (s *Server) handleListDatasets(c echo.Context) error {
	m, err := s.loadManifest()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if m.Namespace != c.Param("namespace") || m.Name != c.Param("name") {
		return echo.NewHTTPError(http.StatusNotFound, "unknown project")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"datasets": m.Datasets})
}

func (s *Server) handleTaskPoll(c echo.Context) error {
	rec, err := s.broker.Poll(c.Param("id"))
	if err != nil {
		if errors.Is(err, resultstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toTaskResponse(rec))
}

func (s *Server) handleTaskRevoke(c echo.Context) error {
	terminate := c.QueryParam("terminate") == "true"
	if err := s.broker.Revoke(c.Param("id"), terminate); err != nil {
		if errors.Is(err, resultstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": c.Param("id"), "state": string(types.TaskStateRevoked)})
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// handleQuery runs a retrieval query through the worker and waits for
// the answer. The wait is cooperative; the handler parks on the request
// context, so a disconnected client stops the wait.
func (s *Server) handleQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	sig, err := broker.BuildSignature("rag.query", map[string]interface{}{
		"database": c.Param("database"),
		"query":    req.Query,
		"top_k":    req.TopK,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return s.dispatchAndWait(c, sig)
}

// handleStats asks the worker for database stats; the worker owns the
// store files, so the server never opens them itself.
func (s *Server) handleStats(c echo.Context) error {
	sig, err := broker.BuildSignature("rag.stats", map[string]string{
		"database": c.Param("database"),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return s.dispatchAndWait(c, sig)
}

// dispatchAndWait is the synchronous task path: dispatch, await, and
// map the terminal record to 200 with either result or error payload.
func (s *Server) dispatchAndWait(c echo.Context, sig broker.Signature) error {
	handle, err := s.broker.Dispatch(sig)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	rec, err := s.broker.AwaitCtx(c.Request().Context(), handle.TaskID, s.cfg.TaskWait, 200*time.Millisecond)
	switch {
	case errors.Is(err, broker.ErrTimeout):
		return c.JSON(http.StatusOK, taskResponse{
			TaskID: handle.TaskID,
			State:  types.TaskStateStarted,
			Error: &types.Failure{
				Code:    types.CodeTimeout,
				Message: "task still running; poll /v1/tasks/" + handle.TaskID,
			},
		})
	case errors.Is(err, broker.ErrRevoked):
		return c.JSON(http.StatusOK, toTaskResponse(rec))
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toTaskResponse(rec))
}
