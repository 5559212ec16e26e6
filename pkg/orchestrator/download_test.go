package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/llamafarm/llamafarm/pkg/types"
)

func downloadServer(t *testing.T, handler http.HandlerFunc) *Downloader {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewDownloader(server.URL, nil)
}

func collectEvents(d *Downloader, model string) ([]types.DownloadEvent, error) {
	var got []types.DownloadEvent
	err := d.Stream(context.Background(), model, func(ev types.DownloadEvent) error {
		got = append(got, ev)
		return nil
	})
	return got, err
}

func TestStreamRelaysEvents(t *testing.T) {
	d := downloadServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("model") != "org/model" {
			t.Errorf("model not forwarded: %s", r.URL.RawQuery)
		}
		fmt.Fprintln(w, `{"type":"start","desc":"weights.bin","total":100}`)
		fmt.Fprintln(w, `{"type":"progress","desc":"weights.bin","n":50,"total":100}`)
		fmt.Fprintln(w, `{"type":"end","desc":"weights.bin"}`)
		fmt.Fprintln(w, `{"type":"done","local_dir":"/models/org/model"}`)
	})

	got, err := collectEvents(d, "org/model")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[len(got)-1].Type != types.DownloadDone {
		t.Errorf("expected terminal done, got %s", got[len(got)-1].Type)
	}
	if got[len(got)-1].LocalDir != "/models/org/model" {
		t.Errorf("local_dir lost: %+v", got[len(got)-1])
	}
}

func TestStreamUpstreamError(t *testing.T) {
	d := downloadServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"start","desc":"weights.bin"}`)
		fmt.Fprintln(w, `{"type":"error","message":"disk full"}`)
	})

	got, err := collectEvents(d, "org/model")
	if err == nil {
		t.Fatal("expected error")
	}
	last := got[len(got)-1]
	if last.Type != types.DownloadError || last.Message != "disk full" {
		t.Errorf("wrong terminal event: %+v", last)
	}
}

func TestStreamParseErrorWording(t *testing.T) {
	d := downloadServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"start"}`)
		fmt.Fprintln(w, `this is not json`)
	})

	got, err := collectEvents(d, "org/model")
	if err == nil {
		t.Fatal("expected error")
	}
	last := got[len(got)-1]
	if last.Type != types.DownloadError {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
	if !strings.HasPrefix(last.Message, "failed to parse upstream response:") {
		t.Errorf("parse errors must name the upstream: %q", last.Message)
	}
	if strings.Contains(last.Message, "stream ended unexpectedly") {
		t.Errorf("vague wording: %q", last.Message)
	}
}

func TestStreamNetworkErrorWording(t *testing.T) {
	d := NewDownloader("http://127.0.0.1:1", nil)

	got, err := collectEvents(d, "org/model")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(got) != 1 || got[0].Type != types.DownloadError {
		t.Fatalf("expected a single terminal error event, got %+v", got)
	}
	if !strings.HasPrefix(got[0].Message, "download failed:") {
		t.Errorf("network errors must say download failed: %q", got[0].Message)
	}
}

func TestStreamTruncatedBodyIsNetworkError(t *testing.T) {
	d := downloadServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"start","desc":"weights.bin"}`)
		// Body ends without a terminal event.
	})

	got, err := collectEvents(d, "org/model")
	if err == nil {
		t.Fatal("expected error")
	}
	last := got[len(got)-1]
	if last.Type != types.DownloadError || !strings.HasPrefix(last.Message, "download failed:") {
		t.Errorf("truncated stream should read as a download failure: %+v", last)
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	release := make(chan struct{})
	d := downloadServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"start","desc":"weights.bin"}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Stream(ctx, "org/model", func(ev types.DownloadEvent) error {
			if ev.Type == types.DownloadStart {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestStreamEmitErrorStops(t *testing.T) {
	d := downloadServer(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, `{"type":"progress","n":%d,"total":100}`+"\n", i)
		}
		fmt.Fprintln(w, `{"type":"done"}`)
	})

	sink := errors.New("subscriber gone")
	seen := 0
	err := d.Stream(context.Background(), "org/model", func(ev types.DownloadEvent) error {
		seen++
		if seen == 3 {
			return sink
		}
		return nil
	})
	if !errors.Is(err, sink) {
		t.Errorf("expected the emit error back, got %v", err)
	}
}
