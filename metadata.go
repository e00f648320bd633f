package hmibox

// PlotLabels are the cosmetic options the web UI and the figure renderer
// share.
type PlotLabels struct {
	Title  string
	XLabel string
	YLabel string
	YMin   *float64 `json:",omitempty"`
	YMax   *float64 `json:",omitempty"`
	YUnit  string
}

// Metadata describes the running session to clients. Served on /metadata and
// sent as the first message on the binary websocket.
type Metadata struct {
	WindowSize   int
	XIsTimestamp bool
	Columns      []string
	TagBase      string
	PlotLabels   PlotLabels
}
