package protocol

// Version is the only protocol version spoken to external plugins.
const Version = 1

// Commands an external plugin may declare in its manifest.
const (
	CommandFind = "find"
	CommandInit = "init"
	CommandRun  = "run"
)

// Request represents the request envelope sent to a plugin via stdin.
type Request struct {
	Protocol  int    `json:"protocol"`
	Command   string `json:"command"` // find | init | run
	RunID     string `json:"run_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	WorkerID  *int   `json:"worker_id,omitempty"`
	TestID    string `json:"test_id,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`
}

// Response represents the response envelope received from a plugin via stdout.
type Response struct {
	Status string     `json:"status"` // ok | error
	Error  string     `json:"error,omitempty"`
	Tests  []string   `json:"tests,omitempty"` // only for find
	Logs   []LogEntry `json:"logs,omitempty"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// OK reports whether the plugin reported success.
func (r *Response) OK() bool {
	return r != nil && r.Status == "ok"
}
