package hmibox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/trace"
	"strings"
	"sync"
	"sync/atomic"
)

// SampleBroadcaster reads samples from a SampleReader on its own goroutine,
// keeps a window of recent samples in a ring buffer, and fans live samples
// out to registered (buffered) client channels. The buffered window is also
// what the analysis and plot endpoints operate on.
type SampleBroadcaster struct {
	input SampleReader

	// teeOutput mirrors the ingested samples as CSV, so plotting does not
	// swallow the data for downstream shell pipes.
	teeOutput io.Writer

	mutex sync.Mutex
	wg    sync.WaitGroup

	// Set once the input stream ends. err must only be read after
	// streamEnded is true to avoid a data race.
	streamEnded atomic.Bool
	err         error

	// Channels from open websockets we are sending data to. Channels must be
	// buffered, to not block the broadcaster.
	channelsForLiveUpdate []chan<- Sample

	// The most recent samples. Pushed to a channel upon registration so new
	// clients see the history; see RegisterChannel.
	sampleBuffer *ThreadUnsafeRing[Sample]

	numSamplesEmitted int

	logger *slog.Logger
}

func NewSampleBroadcaster(input SampleReader, bufferCapacity int, teeOutput io.Writer) *SampleBroadcaster {
	return &SampleBroadcaster{
		input: input,

		teeOutput: teeOutput,

		mutex:                 sync.Mutex{},
		channelsForLiveUpdate: make([]chan<- Sample, 0),
		sampleBuffer:          NewRing[Sample](bufferCapacity),
		numSamplesEmitted:     0,
		logger:                slog.Default().With("tag", "SampleBroadcaster"),
	}
}

// Columns returns the y column names as currently known by the input reader.
// With header detection this may be empty until the first row is read.
func (d *SampleBroadcaster) Columns() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.input.Columns()
}

func (d *SampleBroadcaster) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.run(ctx)

		d.err = err

		// Must set all variables to be read after the broadcaster is complete
		// before this, as this atomic is used to "release" the other variables
		// (see the Go memory model).
		d.streamEnded.Store(true)

		// The end-of-stream marker is cached in the ring too, so clients that
		// connect after the input closed still learn the stream is over.
		d.cacheAndBroadcastSample(ctx, Sample{
			streamEnded: true,
			streamErr:   err,
		})

		logger := d.logger.With("numSamplesEmitted", d.numSamplesEmitted)
		if err != nil {
			logger = logger.With("error", err)
		}
		logger.Info("sample broadcaster stream ended")
	}()
}

func (d *SampleBroadcaster) Wait() {
	d.wg.Wait()
}

// StreamEnded reports whether the input stream has ended, and with what
// error.
func (d *SampleBroadcaster) StreamEnded() (bool, error) {
	if !d.streamEnded.Load() {
		return false, nil
	}
	return true, d.err
}

// Snapshot returns the buffered samples in order, oldest first. The
// end-of-stream marker is excluded; this is the window the analysis and plot
// endpoints see.
func (d *SampleBroadcaster) Snapshot() []Sample {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	buffered := d.sampleBuffer.ReadAllOrdered()
	return Filter(buffered, func(s Sample) bool {
		return !s.streamEnded
	})
}

// SnapshotTable converts the buffered window into a Table, one column per y
// series, ready for the analyzer.
func (d *SampleBroadcaster) SnapshotTable() *Table {
	samples := d.Snapshot()
	columns := d.Columns()

	width := len(columns)
	for _, s := range samples {
		if len(s.Ys) > width {
			width = len(s.Ys)
		}
	}
	if len(columns) < width {
		columns = append(append([]string{}, columns...), DefaultColumnNames(width)[len(columns):]...)
	}

	series := make([][]float64, width)
	for _, s := range samples {
		for i, y := range s.Ys {
			series[i] = append(series[i], y)
		}
	}

	return NewTable(columns, series)
}

// RegisterChannel registers a new channel for live updates. Called from the
// HTTP server when a websocket connection is initiated.
//
// The broadcaster's mutex is held while the buffered history is pushed into
// the new channel, so no sample can slip between the history replay and the
// start of live updates. This can stall the live fan-out briefly when a new
// tab connects, which is acceptable because connections are rare; the
// channel must be buffered generously enough to absorb the history.
func (d *SampleBroadcaster) RegisterChannel(ctx context.Context, c chan<- Sample) {
	traceCtx, task := trace.NewTask(ctx, "RegisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", d.mutex.Lock)
	defer d.mutex.Unlock()

	trace.WithRegion(traceCtx, "pushBufferedSamplesToChannel", func() {
		d.pushBufferedSamplesToChannel(c)
	})

	d.channelsForLiveUpdate = append(d.channelsForLiveUpdate, c)

	d.logger.With(
		"newChannel", c,
		"channels", d.channelsForLiveUpdate,
	).Info("registered channel")
}

// DeregisterChannel removes a channel from live updates. Called when a
// websocket client disconnects. The channel must not be closed until this
// returns, as the broadcaster may still be sending on it.
func (d *SampleBroadcaster) DeregisterChannel(ctx context.Context, c chan<- Sample) {
	traceCtx, task := trace.NewTask(ctx, "DeregisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", d.mutex.Lock)
	defer d.mutex.Unlock()

	d.channelsForLiveUpdate = Filter(d.channelsForLiveUpdate, func(channel chan<- Sample) bool {
		return channel != c
	})
	d.logger.With(
		"removedChannel", c,
		"channels", d.channelsForLiveUpdate,
	).Info("deregistered channel")
}

func (d *SampleBroadcaster) run(ctx context.Context) error {
	var sample Sample
	var err error

	for {
		traceCtx, task := trace.NewTask(ctx, "SampleBroadcasterLoop")

		trace.WithRegion(traceCtx, "SampleRead", func() {
			sample, err = d.input.Read(traceCtx)
		})

		if err == errIgnoreThisRow {
			task.End()
			continue
		} else if err == io.EOF {
			// The source ended. Channels stay open: the cached window still
			// serves new browser tabs.
			task.End()
			return nil
		} else if err != nil {
			task.End()
			return err
		}

		if d.teeOutput != nil {
			line := make([]string, 0, len(sample.Ys)+1)
			line = append(line, fmt.Sprintf("%f", sample.X))

			for _, y := range sample.Ys {
				line = append(line, fmt.Sprintf("%f", y))
			}

			fmt.Fprintln(d.teeOutput, strings.Join(line, ","))
		}

		d.cacheAndBroadcastSample(traceCtx, sample)
		task.End()
	}
}

func (d *SampleBroadcaster) cacheAndBroadcastSample(traceCtx context.Context, sample Sample) {
	d.numSamplesEmitted++

	trace.WithRegion(traceCtx, "Lock", d.mutex.Lock)
	defer d.mutex.Unlock()

	d.logger.With(
		"x", sample.X,
		"ys", sample.Ys,
	).Debug("new sample")

	trace.WithRegion(traceCtx, "Cache", func() {
		d.sampleBuffer.Push(sample)
	})

	trace.WithRegion(traceCtx, "Broadcast", func() {
		for _, c := range d.channelsForLiveUpdate {
			c <- sample
		}
	})
}

func (d *SampleBroadcaster) pushBufferedSamplesToChannel(c chan<- Sample) {
	for _, sample := range d.sampleBuffer.ReadAllOrdered() {
		c <- sample
	}
}
