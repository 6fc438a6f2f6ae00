package api

import "time"

// MsgType is a message type for report sink messages
type MsgType string

const (
	RunReportMsg MsgType = "run_report"
)

// Log excerpt size constraints for report messages
const (
	MaxLogExcerptHeight = 40
	MaxLogExcerptWidth  = 120
)

// Header is the common header for all report sink messages
type Header struct {
	RunID   string  `json:"run_id"`
	MsgType MsgType `json:"msg_type"`
}

// Report is the envelope shipped to a reporting sink for one run.
type Report struct {
	Header

	Result RunResult `json:"result"`

	EntryPoint  string   `json:"entry_point"`
	BundlePaths []string `json:"bundle_paths"`

	// Excerpts of the captured target logs, trimmed to the size
	// constraints above.
	StdoutTail string `json:"stdout_tail,omitempty"`
	StderrTail string `json:"stderr_tail,omitempty"`

	// ArchiveURL is set when the full artifacts were shipped to object
	// storage instead of being embedded.
	ArchiveURL string `json:"archive_url,omitempty"`

	CreatedAt string `json:"created_at"`
}

func NewReport(res RunResult, entryPoint string, bundlePaths []string) Report {
	return Report{
		Header:      Header{RunID: res.RunID, MsgType: RunReportMsg},
		Result:      res,
		EntryPoint:  entryPoint,
		BundlePaths: bundlePaths,
		CreatedAt:   time.Now().Format(time.RFC3339),
	}
}
