package hmibox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// startTestServer spins up an HttpServer over a short, already ended sample
// stream and returns the test server plus the broadcaster behind it.
func startTestServer(t *testing.T) (*httptest.Server, *HttpServer) {
	t.Helper()

	samples := []Sample{
		{X: 1, Ys: []float64{10, 100}},
		{X: 2, Ys: []float64{20, 200}},
		{X: 3, Ys: []float64{30, 300}},
	}
	reader := newTestReaderFromSamples(samples, []string{"boiler_temp", "line_pressure"}, 0)

	broadcaster := NewSampleBroadcaster(reader, 100, nil)
	broadcaster.Start(context.Background())
	broadcaster.Wait()

	sandbox, err := NewSandbox(SandboxOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	metadata := Metadata{
		WindowSize: 100,
		TagBase:    DefaultTagBase,
		PlotLabels: PlotLabels{Title: "test session"},
	}

	server := NewHttpServer(broadcaster, sandbox, "localhost:0", metadata)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return ts, server
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHttpServerMetadata(t *testing.T) {
	ts, _ := startTestServer(t)

	var metadata Metadata
	getJSON(t, ts.URL+"/metadata", &metadata)

	if metadata.WindowSize != 100 {
		t.Errorf("unexpected window size: %d", metadata.WindowSize)
	}
	if want := []string{"boiler_temp", "line_pressure"}; !reflect.DeepEqual(metadata.Columns, want) {
		t.Errorf("unexpected columns: %v", metadata.Columns)
	}
	if metadata.PlotLabels.Title != "test session" {
		t.Errorf("unexpected title: %q", metadata.PlotLabels.Title)
	}
}

func TestHttpServerAnalysis(t *testing.T) {
	ts, _ := startTestServer(t)

	t.Run("GetAnalyzesBufferedWindow", func(t *testing.T) {
		var analysis Analysis
		getJSON(t, ts.URL+"/api/analysis", &analysis)

		summary, ok := analysis.Summary["boiler_temp"]
		if !ok {
			t.Fatalf("missing boiler_temp summary: %+v", analysis.Summary)
		}
		if summary.Count != 3 || summary.Mean != 20 {
			t.Errorf("unexpected summary: %+v", summary)
		}

		// boiler_temp matches the temperature rule, line_pressure the
		// pressure rule.
		if len(analysis.Components) != 2 {
			t.Fatalf("expected 2 components, got %+v", analysis.Components)
		}
	})

	t.Run("PostAnalyzesBody", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/analysis", "application/json", strings.NewReader(`{"temp_1": 50}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}

		var analysis Analysis
		if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
			t.Fatal(err)
		}
		if len(analysis.Suggestions) != 1 {
			t.Fatalf("unexpected suggestions: %v", analysis.Suggestions)
		}
		if analysis.Components[0].Type != "perspective.display" {
			t.Errorf("unexpected component: %+v", analysis.Components[0])
		}
	})

	t.Run("PostMalformedJSON", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/analysis", "application/json", strings.NewReader(`{not json`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	})

	t.Run("PostNonTabularShape", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/analysis", "application/json", strings.NewReader(`42`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}

		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(body["error"], "normalize") {
			t.Errorf("unexpected error body: %v", body)
		}
	})
}

func TestHttpServerPlot(t *testing.T) {
	ts, _ := startTestServer(t)

	var body map[string]string
	getJSON(t, ts.URL+"/api/plot", &body)

	width, height := decodeDataURI(t, body["dataUri"])
	if width != 960 || height != 720 {
		t.Errorf("unexpected plot dimensions: %dx%d", width, height)
	}
}

func TestHttpServerComponents(t *testing.T) {
	ts, _ := startTestServer(t)

	t.Run("BuildsComponent", func(t *testing.T) {
		reqBody := `{"kind": "gauge", "name": "tank_level", "props": {"value": 5}}`
		resp, err := http.Post(ts.URL+"/api/components", "application/json", strings.NewReader(reqBody))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}

		var component Component
		if err := json.NewDecoder(resp.Body).Decode(&component); err != nil {
			t.Fatal(err)
		}
		if component.Type != "perspective.gauge" {
			t.Errorf("unexpected type: %q", component.Type)
		}
		if component.Meta.Name != "tank_level" {
			t.Errorf("unexpected name: %q", component.Meta.Name)
		}
		if component.Props["value"] != 5.0 {
			t.Errorf("unexpected props: %v", component.Props)
		}
	})

	t.Run("MissingKind", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/components", "application/json", strings.NewReader(`{"name": "x"}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	})

	t.Run("GetNotAllowed", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/components")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	})
}

func TestHttpServerBinaryWebSocket(t *testing.T) {
	ts, server := startTestServer(t)
	server.analysisEvery = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws2"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	readMessage := func() Message {
		t.Helper()

		msgType, data, err := c.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if msgType != websocket.MessageBinary {
			t.Fatalf("expected a binary frame, got %v", msgType)
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			t.Fatal(err)
		}
		return msg
	}

	// The stream has already ended, so the wire sequence is deterministic:
	// METADATA, then SAMPLE + ANALYSIS per buffered sample, then STREAM_END.
	msg := readMessage()
	if msg.Header.Type != MessageTypeMetadata {
		t.Fatalf("expected METADATA first, got 0x%02x", msg.Header.Type)
	}
	metadata := msg.Payload.(Metadata)
	if want := []string{"boiler_temp", "line_pressure"}; !reflect.DeepEqual(metadata.Columns, want) {
		t.Fatalf("unexpected columns in metadata: %v", metadata.Columns)
	}

	wantXs := []float64{1, 2, 3}
	for _, wantX := range wantXs {
		msg = readMessage()
		if msg.Header.Type != MessageTypeSample {
			t.Fatalf("expected SAMPLE, got 0x%02x", msg.Header.Type)
		}
		sample := msg.Payload.(SampleMessage)
		if sample.X != wantX {
			t.Fatalf("unexpected x: %v (want %v)", sample.X, wantX)
		}

		msg = readMessage()
		if msg.Header.Type != MessageTypeAnalysis {
			t.Fatalf("expected ANALYSIS, got 0x%02x", msg.Header.Type)
		}
		analysis := msg.Payload.(Analysis)
		if _, ok := analysis.Summary["boiler_temp"]; !ok {
			t.Fatalf("analysis lacks boiler_temp summary: %+v", analysis.Summary)
		}
	}

	msg = readMessage()
	if msg.Header.Type != MessageTypeStreamEnd {
		t.Fatalf("expected STREAM_END, got 0x%02x", msg.Header.Type)
	}
	if end := msg.Payload.(StreamEndMessage); end.Error {
		t.Fatalf("unexpected stream error: %q", end.Msg)
	}
}
