package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/perspectra/hmibox"
)

func newTestTailer(t *testing.T) (*Tailer, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	tailer := NewTailer(Config{
		ServerURL: "http://localhost:5274",
		Output:    &out,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return tailer, &out
}

func encodeMessage(t *testing.T, msgType byte, payload interface{}) []byte {
	t.Helper()

	data, err := hmibox.EncodeMessage(hmibox.NewMessage(msgType, payload))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestProcessMessage(t *testing.T) {
	t.Run("MetadataWritesCSVHeader", func(t *testing.T) {
		tailer, out := newTestTailer(t)

		metadata := hmibox.Metadata{Columns: []string{"temp", "pressure"}}
		if err := tailer.processMessage(encodeMessage(t, hmibox.MessageTypeMetadata, metadata)); err != nil {
			t.Fatal(err)
		}
		tailer.csvWriter.Flush()

		if got := out.String(); got != "x,temp,pressure\n" {
			t.Fatalf("unexpected header row: %q", got)
		}
	})

	t.Run("SampleWritesCSVRow", func(t *testing.T) {
		tailer, out := newTestTailer(t)

		sample := hmibox.SampleMessage{X: 1.5, Ys: []float64{10, 20.25}}
		if err := tailer.processMessage(encodeMessage(t, hmibox.MessageTypeSample, sample)); err != nil {
			t.Fatal(err)
		}

		if got := out.String(); got != "1.5,10,20.25\n" {
			t.Fatalf("unexpected sample row: %q", got)
		}
	})

	t.Run("AnalysisIsLoggedNotWritten", func(t *testing.T) {
		tailer, out := newTestTailer(t)

		analysis, err := hmibox.Analyze([]hmibox.Record{{"temp": 1.0}})
		if err != nil {
			t.Fatal(err)
		}
		if err := tailer.processMessage(encodeMessage(t, hmibox.MessageTypeAnalysis, analysis)); err != nil {
			t.Fatal(err)
		}

		if out.Len() != 0 {
			t.Fatalf("analysis should not produce CSV output, got %q", out.String())
		}
	})

	t.Run("StreamEndReturnsEOF", func(t *testing.T) {
		tailer, _ := newTestTailer(t)

		end := hmibox.StreamEndMessage{}
		if err := tailer.processMessage(encodeMessage(t, hmibox.MessageTypeStreamEnd, end)); err != io.EOF {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	})

	t.Run("StreamEndWithErrorStillReturnsEOF", func(t *testing.T) {
		tailer, _ := newTestTailer(t)

		end := hmibox.StreamEndMessage{Error: true, Msg: "source died"}
		if err := tailer.processMessage(encodeMessage(t, hmibox.MessageTypeStreamEnd, end)); err != io.EOF {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	})

	t.Run("GarbageIsRejected", func(t *testing.T) {
		tailer, _ := newTestTailer(t)

		err := tailer.processMessage([]byte{1, 2, 3})
		if err == nil || !strings.Contains(err.Error(), "decode") {
			t.Fatalf("expected a decode error, got %v", err)
		}
	})
}
