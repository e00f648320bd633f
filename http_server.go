package hmibox

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const bufferSize = 10000

// How many live samples pass between ANALYSIS messages on the binary
// websocket.
const defaultAnalysisEvery = 50

type HttpServer struct {
	broadcaster   *SampleBroadcaster
	sandbox       *Sandbox
	addr          string
	metadata      Metadata
	analysisEvery int
	mux           *http.ServeMux
	logger        logrus.FieldLogger
}

func NewHttpServer(broadcaster *SampleBroadcaster, sandbox *Sandbox, addr string, metadata Metadata) *HttpServer {
	s := &HttpServer{
		broadcaster:   broadcaster,
		sandbox:       sandbox,
		addr:          addr,
		metadata:      metadata,
		analysisEvery: defaultAnalysisEvery,
		mux:           http.NewServeMux(),
		logger:        logrus.WithField("tag", "HttpServer"),
	}

	subFS, err := fs.Sub(webuiFiles, "webui")
	if err != nil {
		panic(err)
	}

	s.mux.Handle("/", http.FileServer(http.FS(subFS)))
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/ws2", s.handleWebSocket2)
	s.mux.HandleFunc("/metadata", s.handleMetadata)
	s.mux.HandleFunc("/api/analysis", s.handleAnalysis)
	s.mux.HandleFunc("/api/plot", s.handlePlot)
	s.mux.HandleFunc("/api/components", s.handleComponents)

	return s
}

// Handler exposes the mux, mainly for tests.
func (s *HttpServer) Handler() http.Handler {
	return s.mux
}

// handleWebSocket streams samples as JSON objects. This is the endpoint the
// bundled web UI uses.
func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	ctx := req.Context()
	ctx = c.CloseRead(ctx) // server-to-client only

	channel := make(chan Sample, bufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case sample, open := <-channel:
				if !open {
					s.logger.Warn("sample channel closed, closing websocket")
					c.Close(websocket.StatusNormalClosure, "channel closed")
					return
				}

				if sample.streamEnded {
					// JSON clients just get the socket closed on stream end.
					c.Close(websocket.StatusNormalClosure, "stream ended")
					return
				}

				if err := wsjson.Write(ctx, c, sample); err != nil {
					s.logger.Warn("websocket write failed and closed")
					return
				}
			case <-ctx.Done():
				s.logger.Info("client closed connection or context canceled")
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	s.broadcaster.RegisterChannel(ctx, channel)

	wg.Wait()
	s.broadcaster.DeregisterChannel(ctx, channel)
	close(channel)
}

// handleWebSocket2 streams the binary envelope protocol: METADATA first, then
// buffered + live SAMPLE messages, with a periodic ANALYSIS message, and a
// STREAM_END when the input closes.
func (s *HttpServer) handleWebSocket2(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	ctx := req.Context()
	ctx = c.CloseRead(ctx)

	writeMessage := func(msg Message) error {
		data, err := EncodeMessage(msg)
		if err != nil {
			return err
		}
		return c.Write(ctx, websocket.MessageBinary, data)
	}

	metadata := s.metadata
	metadata.Columns = s.broadcaster.Columns()
	if err := writeMessage(NewMessage(MessageTypeMetadata, metadata)); err != nil {
		s.logger.WithError(err).Warn("failed to send metadata, closing websocket")
		c.Close(websocket.StatusInternalError, "metadata write failed")
		return
	}

	channel := make(chan Sample, bufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		sinceAnalysis := 0
		for {
			select {
			case sample, open := <-channel:
				if !open {
					c.Close(websocket.StatusNormalClosure, "channel closed")
					return
				}

				if sample.streamEnded {
					end := StreamEndMessage{}
					if sample.streamErr != nil {
						end.Error = true
						end.Msg = sample.streamErr.Error()
					}
					if err := writeMessage(NewMessage(MessageTypeStreamEnd, end)); err != nil {
						s.logger.Warn("websocket write failed and closed")
					}
					continue
				}

				if err := writeMessage(NewMessage(MessageTypeSample, SampleMessage{X: sample.X, Ys: sample.Ys})); err != nil {
					s.logger.Warn("websocket write failed and closed")
					return
				}

				sinceAnalysis++
				if s.analysisEvery > 0 && sinceAnalysis >= s.analysisEvery {
					sinceAnalysis = 0
					analysis := s.sandbox.AnalyzeTable(s.broadcaster.SnapshotTable())
					if err := writeMessage(NewMessage(MessageTypeAnalysis, analysis)); err != nil {
						s.logger.Warn("websocket write failed and closed")
						return
					}
				}
			case <-ctx.Done():
				s.logger.Info("client closed connection or context canceled")
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	s.broadcaster.RegisterChannel(ctx, channel)

	wg.Wait()
	s.broadcaster.DeregisterChannel(ctx, channel)
	close(channel)
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	metadata := s.metadata
	metadata.Columns = s.broadcaster.Columns()

	s.writeJSON(w, http.StatusOK, metadata)
}

// handleAnalysis serves the analyzer. GET analyzes the buffered sample
// window; POST analyzes the records in the request body (a JSON object or an
// array of objects).
func (s *HttpServer) handleAnalysis(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		analysis := s.sandbox.AnalyzeTable(s.broadcaster.SnapshotTable())
		s.writeJSON(w, http.StatusOK, analysis)

	case http.MethodPost:
		var data any
		if err := json.NewDecoder(req.Body).Decode(&data); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		analysis, err := s.sandbox.Analyze(data)
		if err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeJSON(w, http.StatusOK, analysis)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handlePlot renders the buffered sample window as a line plot and returns
// it as a data URI, ready to drop into an <img> src.
func (s *HttpServer) handlePlot(w http.ResponseWriter, req *http.Request) {
	samples := s.broadcaster.Snapshot()
	columns := s.broadcaster.Columns()

	figure := s.sandbox.NewFigure()

	width := 0
	for _, sample := range samples {
		if len(sample.Ys) > width {
			width = len(sample.Ys)
		}
	}
	if len(columns) < width {
		columns = append(append([]string{}, columns...), DefaultColumnNames(width)[len(columns):]...)
	}

	for i := 0; i < width; i++ {
		var xs, ys []float64
		for _, sample := range samples {
			if i >= len(sample.Ys) {
				continue
			}
			xs = append(xs, sample.X)
			ys = append(ys, sample.Ys[i])
		}
		if err := figure.Line(columns[i], xs, ys); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	dataURI, err := figure.ExportDataURI()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"dataUri": dataURI})
}

type componentRequest struct {
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	Position *Position      `json:"position"`
	Size     *Size          `json:"size"`
	Props    map[string]any `json:"props"`
}

// handleComponents builds one component descriptor from a JSON request body.
func (s *HttpServer) handleComponents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body componentRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Kind == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind is required"})
		return
	}

	component := s.sandbox.BuildComponent(body.Kind, &ComponentOptions{
		Name:     body.Name,
		Position: body.Position,
		Size:     body.Size,
		Props:    body.Props,
	})

	s.writeJSON(w, http.StatusOK, component)
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *HttpServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *HttpServer) Run() {
	logrus.Infof("starting HTTP server at http://%s", s.addr)
	openBrowser("http://" + s.addr)
	http.ListenAndServe(s.addr, s.mux)
}
