package main

import (
	"context"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/perspectra/hmibox"
)

type options struct {
	Listen string `short:"l" long:"listen" default:"localhost:5274" description:"Address to listen on"`

	Input  string `short:"i" long:"input" description:"Input file; stdin when omitted"`
	Format string `short:"f" long:"format" default:"relaxed" choice:"relaxed" choice:"csv" choice:"xlsx" description:"Input format"`
	Sheet  string `long:"sheet" description:"Worksheet name for xlsx input; first sheet when omitted"`

	Columns    []string `short:"c" long:"column" description:"Column names, in order (repeatable)"`
	Header     bool     `long:"header" description:"Take column names from the first non-numeric row"`
	XIndex     int      `short:"x" long:"x-index" default:"-1" description:"Column index holding the x value; -1 uses the ingest time"`
	ExactCount bool     `long:"exact-columns" description:"Skip rows whose width differs from the column list"`

	WindowSize int    `short:"w" long:"window" default:"10000" description:"Number of samples kept for analysis and plots"`
	TagBase    string `long:"tag-base" default:"[default]Equipment" description:"Tag folder for suggested component bindings"`
	SandboxDir string `long:"sandbox-dir" default:"/app/sandbox" description:"Sandbox workspace directory"`
	ChangeDir  bool   `long:"chdir" description:"Change working directory into the sandbox dir"`

	Title  string `short:"t" long:"title" description:"Plot title"`
	XLabel string `long:"x-label" description:"Plot x axis label"`
	YLabel string `long:"y-label" description:"Plot y axis label"`

	Tee   string `long:"tee" description:"Mirror ingested samples as CSV into this file"`
	Debug bool   `long:"debug" description:"Enable debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}

	if opts.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logger := logrus.WithField("tag", "main")

	input := io.Reader(os.Stdin)
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			logger.WithError(err).Fatal("cannot open input file")
		}
		defer f.Close()
		input = f
	}

	var stringReader hmibox.StringReader
	switch opts.Format {
	case "csv":
		stringReader = hmibox.NewCsvStringReader(input)
	case "xlsx":
		var err error
		stringReader, err = hmibox.NewExcelStringReader(input, opts.Sheet)
		if err != nil {
			logger.WithError(err).Fatal("cannot read xlsx input")
		}
	default:
		stringReader = hmibox.NewRelaxedStringReader(input)
	}

	sampleReader := &hmibox.TextToSampleReader{
		Input:                  stringReader,
		XIndex:                 opts.XIndex,
		ColumnNames:            opts.Columns,
		DetectHeader:           opts.Header,
		ExpectExactColumnCount: opts.ExactCount,
	}

	var teeOutput io.Writer
	if opts.Tee != "" {
		f, err := os.Create(opts.Tee)
		if err != nil {
			logger.WithError(err).Fatal("cannot create tee file")
		}
		defer f.Close()
		teeOutput = f
	}

	sandbox, err := hmibox.NewSandbox(hmibox.SandboxOptions{
		Dir:       opts.SandboxDir,
		ChangeDir: opts.ChangeDir,
		TagBase:   opts.TagBase,
		Figure: hmibox.FigureOptions{
			Title:  opts.Title,
			XLabel: opts.XLabel,
			YLabel: opts.YLabel,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("cannot initialize sandbox")
	}

	metadata := hmibox.Metadata{
		WindowSize:   opts.WindowSize,
		XIsTimestamp: opts.XIndex < 0,
		TagBase:      opts.TagBase,
		PlotLabels: hmibox.PlotLabels{
			Title:  opts.Title,
			XLabel: opts.XLabel,
			YLabel: opts.YLabel,
		},
	}

	broadcaster := hmibox.NewSampleBroadcaster(sampleReader, opts.WindowSize, teeOutput)
	broadcaster.Start(context.Background())

	server := hmibox.NewHttpServer(broadcaster, sandbox, opts.Listen, metadata)
	server.Run()
}
