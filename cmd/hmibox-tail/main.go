package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/perspectra/hmibox"
	"nhooyr.io/websocket"
)

// Config holds the configuration for the tail client.
type Config struct {
	ServerURL string
	Output    io.Writer
	Logger    *slog.Logger
}

// Tailer reads the hmibox binary websocket endpoint and writes samples as
// CSV lines.
type Tailer struct {
	config    Config
	csvWriter *csv.Writer
}

func NewTailer(config Config) *Tailer {
	return &Tailer{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
	}
}

// Connect establishes the websocket connection and processes messages until
// the stream ends or the connection closes.
func (t *Tailer) Connect() error {
	u, err := url.Parse(t.config.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws2"

	t.config.Logger.Info("connecting to websocket", "url", u.String())

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, messageData, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				t.config.Logger.Info("connection closed normally")
				break
			}
			t.config.Logger.Error("error reading message", "error", err)
			break
		}

		if err := t.processMessage(messageData); err != nil {
			if err == io.EOF {
				t.config.Logger.Info("stream ended")
				break
			}
			t.config.Logger.Error("error processing message", "error", err)
		}
	}

	t.csvWriter.Flush()
	return t.csvWriter.Error()
}

// processMessage handles a single websocket message. Returns io.EOF when the
// server signals the end of the stream.
func (t *Tailer) processMessage(messageData []byte) error {
	msg, err := hmibox.DecodeMessage(messageData)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Header.Type {
	case hmibox.MessageTypeSample:
		sample, ok := msg.Payload.(hmibox.SampleMessage)
		if !ok {
			return fmt.Errorf("invalid SAMPLE message payload type: %T", msg.Payload)
		}
		return t.writeSample(sample)

	case hmibox.MessageTypeMetadata:
		metadata, ok := msg.Payload.(hmibox.Metadata)
		if !ok {
			return fmt.Errorf("invalid METADATA message payload type: %T", msg.Payload)
		}
		t.config.Logger.Debug("received metadata", "metadata", metadata)
		header := append([]string{"x"}, metadata.Columns...)
		return t.csvWriter.Write(header)

	case hmibox.MessageTypeAnalysis:
		analysis, ok := msg.Payload.(hmibox.Analysis)
		if !ok {
			return fmt.Errorf("invalid ANALYSIS message payload type: %T", msg.Payload)
		}
		t.config.Logger.Info("received analysis",
			"columns", len(analysis.Summary),
			"suggestions", len(analysis.Suggestions))

	case hmibox.MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(hmibox.StreamEndMessage)
		if !ok {
			return fmt.Errorf("invalid STREAM_END message payload type: %T", msg.Payload)
		}
		if streamEnd.Error {
			t.config.Logger.Error("stream ended with error", "msg", streamEnd.Msg)
		}
		return io.EOF

	default:
		return fmt.Errorf("unknown message type: 0x%02x", msg.Header.Type)
	}

	return nil
}

func (t *Tailer) writeSample(sample hmibox.SampleMessage) error {
	record := make([]string, 0, len(sample.Ys)+1)
	record = append(record, strconv.FormatFloat(sample.X, 'f', -1, 64))
	for _, y := range sample.Ys {
		record = append(record, strconv.FormatFloat(y, 'f', -1, 64))
	}
	if err := t.csvWriter.Write(record); err != nil {
		return err
	}
	t.csvWriter.Flush()
	return t.csvWriter.Error()
}

func main() {
	var debug bool
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <server-url>\n", os.Args[0])
		os.Exit(1)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	tailer := NewTailer(Config{
		ServerURL: flag.Arg(0),
		Output:    os.Stdout,
		Logger:    logger,
	})

	if err := tailer.Connect(); err != nil {
		logger.Error("tail failed", "error", err)
		os.Exit(1)
	}
}
