package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/llamafarm/llamafarm/pkg/events"
	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/metrics"
	"github.com/llamafarm/llamafarm/pkg/types"
)

// downloadCeiling bounds a single model download end to end
const downloadCeiling = 30 * time.Minute

// EmitFunc receives each download event in order. Returning an error
// stops the stream (the subscriber went away).
type EmitFunc func(types.DownloadEvent) error

// Downloader relays the runtime's model-download progress stream,
// re-emitting it as typed events. Exactly one terminal event (done or
// error) ends every stream.
type Downloader struct {
	// RuntimeURL is the Universal Runtime base URL
	RuntimeURL string

	// Ceiling bounds the whole download; zero means the default
	Ceiling time.Duration

	// Events receives started/done/failed lifecycle notifications; optional
	Events *events.Broker

	Client *http.Client
}

// NewDownloader creates a downloader against the runtime
func NewDownloader(runtimeURL string, broker *events.Broker) *Downloader {
	return &Downloader{
		RuntimeURL: runtimeURL,
		Ceiling:    downloadCeiling,
		Events:     broker,
		// No client timeout: the ceiling context bounds the stream, and a
		// flat timeout would kill slow-but-healthy downloads.
		Client: &http.Client{},
	}
}

// Stream downloads a model through the runtime, forwarding its JSON
// line protocol as events. Cancelling ctx (the subscriber disconnected)
// aborts the upstream request. Network failures and malformed upstream
// lines both surface as a terminal error event with distinct wording,
// so the user can tell which side broke.
func (d *Downloader) Stream(ctx context.Context, model string, emit EmitFunc) error {
	logger := log.WithComponent("downloader").With().Str("model", model).Logger()

	ceiling := d.Ceiling
	if ceiling <= 0 {
		ceiling = downloadCeiling
	}
	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/models/pull?model=%s", d.RuntimeURL, url.QueryEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return d.fail(emit, model, fmt.Sprintf("download failed: %v", err))
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("runtime unreachable")
		return d.fail(emit, model, fmt.Sprintf("download failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return d.fail(emit, model, fmt.Sprintf("download failed: runtime returned %d", resp.StatusCode))
	}

	d.notify(events.EventDownloadStarted, model, "")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lastN int64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev types.DownloadEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Error().Err(err).Str("line", truncate(line, 200)).Msg("bad upstream line")
			return d.fail(emit, model, fmt.Sprintf("failed to parse upstream response: %v", err))
		}

		if ev.Type == types.DownloadProgress && ev.N > lastN {
			metrics.DownloadBytes.Add(float64(ev.N - lastN))
			lastN = ev.N
		}

		switch ev.Type {
		case types.DownloadDone:
			if err := emit(ev); err != nil {
				return err
			}
			d.notify(events.EventDownloadDone, model, ev.LocalDir)
			logger.Info().Str("local_dir", ev.LocalDir).Msg("download complete")
			return nil
		case types.DownloadError:
			if ev.Message == "" {
				ev.Message = "download failed"
			}
			if err := emit(ev); err != nil {
				return err
			}
			d.notify(events.EventDownloadFailed, model, ev.Message)
			return fmt.Errorf("download failed: %s", ev.Message)
		default:
			if err := emit(ev); err != nil {
				return err
			}
		}
	}

	// The body ended without a terminal event: either the subscriber's
	// context fired or the connection to the runtime dropped.
	if ctx.Err() != nil {
		logger.Info().Msg("download stream cancelled")
		return ctx.Err()
	}
	scanErr := scanner.Err()
	if scanErr == nil {
		scanErr = fmt.Errorf("connection closed before completion")
	}
	return d.fail(emit, model, fmt.Sprintf("download failed: %v", scanErr))
}

// fail emits the terminal error event and returns the matching error
func (d *Downloader) fail(emit EmitFunc, model, message string) error {
	_ = emit(types.DownloadEvent{Type: types.DownloadError, Message: message})
	d.notify(events.EventDownloadFailed, model, message)
	return fmt.Errorf("%s", message)
}

func (d *Downloader) notify(t events.EventType, model, message string) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(&events.Event{
		Type:     t,
		Message:  message,
		Metadata: map[string]string{"model": model},
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
