package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/llamafarm/llamafarm/pkg/types"
)

// sseWriter serializes one SSE event frame and flushes it
func sseWriter(c echo.Context) (func(event string, data interface{}) error, error) {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	return func(event string, data interface{}) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, nil
}

// handleDownload streams a model download as SSE. The downloader owns
// error wording; every stream ends with exactly one done or error
// event. Client disconnect cancels the upstream pull.
func (s *Server) handleDownload(c echo.Context) error {
	model := c.QueryParam("model")
	if model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model is required")
	}
	if s.downloader == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "runtime not configured")
	}

	emit, err := sseWriter(c)
	if err != nil {
		return err
	}

	streamErr := s.downloader.Stream(c.Request().Context(), model, func(ev types.DownloadEvent) error {
		return emit(string(ev.Type), ev)
	})
	if streamErr != nil {
		// The terminal error event already went out; nothing more to send.
		s.logger.Debug().Err(streamErr).Str("model", model).Msg("download stream ended")
	}
	return nil
}

// handleEvents streams orchestrator lifecycle events as SSE
func (s *Server) handleEvents(c echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}

	emit, err := sseWriter(c)
	if err != nil {
		return err
	}

	sub := s.events.Subscribe()
	defer s.events.Unsubscribe(sub)

	ctx := c.Request().Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := emit("heartbeat", map[string]int64{"ts": time.Now().Unix()}); err != nil {
				return nil
			}
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if err := emit(string(ev.Type), ev); err != nil {
				return nil
			}
		}
	}
}

// handleChat proxies a chat completion to the runtime, streaming the
// response body through unchanged.
func (s *Server) handleChat(c echo.Context) error {
	if s.cfg.RuntimeURL == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "runtime not configured")
	}

	req, err := http.NewRequestWithContext(
		c.Request().Context(),
		http.MethodPost,
		s.cfg.RuntimeURL+"/v1/chat/completions",
		c.Request().Body,
	)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("runtime unreachable: %v", err))
	}
	defer resp.Body.Close()

	out := c.Response()
	out.Header().Set(echo.HeaderContentType, resp.Header.Get("Content-Type"))
	out.WriteHeader(resp.StatusCode)

	// Flush per line so token streams render live.
	flusher, canFlush := out.Writer.(http.Flusher)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := out.Write(line); werr != nil {
				return nil
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return nil
		}
	}
}
