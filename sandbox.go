package hmibox

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// DefaultSandboxDir is where the authoring tool mounts the disposable
// sandbox workspace.
const DefaultSandboxDir = "/app/sandbox"

// SandboxOptions configure one sandbox session. The session replaces the
// import-time globals of the old bootstrap: backend selection, workdir and
// figure defaults are all explicit here, so several sessions can coexist in
// one process without stepping on each other.
type SandboxOptions struct {
	// Dir is the sandbox workspace; relative file access by generated code is
	// resolved against it. Defaults to DefaultSandboxDir.
	Dir string

	// ChangeDir makes the session chdir into Dir, matching the behavior the
	// interactive harness expects. Off by default because chdir is process
	// global.
	ChangeDir bool

	// TagBase roots the tag bindings of suggested components, e.g.
	// "[default]Equipment".
	TagBase string

	// Figure provides the defaults for figures created by this session.
	Figure FigureOptions

	Logger logrus.FieldLogger
}

// Sandbox is one disposable authoring session: it builds components, analyzes
// data with the session's rule set, and hands out figure sessions with the
// session's defaults.
type Sandbox struct {
	dir     string
	figOpts FigureOptions
	rules   []SuggestionRule
	logger  logrus.FieldLogger
}

// NewSandbox initializes a sandbox session. Unlike the old bootstrap, a
// missing or inaccessible workspace directory is reported as an error rather
// than left to fault later.
func NewSandbox(opts SandboxOptions) (*Sandbox, error) {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultSandboxDir
	}

	tagBase := opts.TagBase
	if tagBase == "" {
		tagBase = DefaultTagBase
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.WithField("tag", "Sandbox")
	}

	if opts.ChangeDir {
		if err := os.Chdir(dir); err != nil {
			return nil, fmt.Errorf("entering sandbox dir: %w", err)
		}
		logger.WithField("dir", dir).Info("changed working directory")
	}

	return &Sandbox{
		dir:     dir,
		figOpts: opts.Figure,
		rules:   RulesFor(tagBase),
		logger:  logger,
	}, nil
}

// Dir returns the sandbox workspace directory.
func (s *Sandbox) Dir() string {
	return s.dir
}

// Rules returns the session's suggestion rules.
func (s *Sandbox) Rules() []SuggestionRule {
	return s.rules
}

// BuildComponent builds a component descriptor; see the package-level
// BuildComponent.
func (s *Sandbox) BuildComponent(kind string, opts *ComponentOptions) Component {
	return BuildComponent(kind, opts)
}

// NewFigure creates a figure session with the sandbox's figure defaults.
func (s *Sandbox) NewFigure() *Figure {
	return NewFigure(s.figOpts)
}

// Analyze normalizes and analyzes data with the session's rule set.
func (s *Sandbox) Analyze(data any) (Analysis, error) {
	table, err := Normalize(data)
	if err != nil {
		return Analysis{}, err
	}
	return AnalyzeTable(table, s.rules), nil
}

// AnalyzeTable analyzes an already normalized table with the session's rule
// set.
func (s *Sandbox) AnalyzeTable(t *Table) Analysis {
	return AnalyzeTable(t, s.rules)
}
