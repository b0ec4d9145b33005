package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid find request",
			req: &Request{
				Protocol: 1,
				Command:  CommandFind,
				Source:   "./tests",
				Pattern:  "test_*.sh",
			},
			wantErr: false,
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"protocol":1`) {
					t.Error("missing protocol field")
				}
				if !strings.Contains(output, `"command":"find"`) {
					t.Error("missing command field")
				}
				if !strings.Contains(output, `"pattern":"test_*.sh"`) {
					t.Error("missing pattern field")
				}
				if strings.Contains(output, "worker_id") {
					t.Error("worker_id should be omitted for find")
				}
			},
		},
		{
			name: "run request carries worker zero",
			req: &Request{
				Protocol:  1,
				Command:   CommandRun,
				RunID:     "abc",
				WorkerID:  intPtr(0),
				TestID:    "foo",
				Workspace: "/tmp/ws/0",
			},
			wantErr: false,
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"worker_id":0`) {
					t.Error("worker_id 0 must be encoded")
				}
				if !strings.Contains(output, `"test_id":"foo"`) {
					t.Error("missing test_id field")
				}
			},
		},
		{
			name: "unsupported protocol version",
			req: &Request{
				Protocol: 2,
				Command:  CommandFind,
			},
			wantErr: true,
		},
		{
			name: "unsupported command",
			req: &Request{
				Protocol: 1,
				Command:  "poll",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *Response)
	}{
		{
			name:    "find response with tests",
			input:   `{"status":"ok","tests":["a","b","c"]}`,
			wantErr: false,
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.OK() {
					t.Errorf("want status=ok, got %s", resp.Status)
				}
				if len(resp.Tests) != 3 || resp.Tests[2] != "c" {
					t.Errorf("tests not parsed in order: %v", resp.Tests)
				}
			},
		},
		{
			name:    "valid error response",
			input:   `{"status":"error","error":"assertion failed"}`,
			wantErr: false,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.OK() {
					t.Error("want status=error")
				}
				if resp.Error != "assertion failed" {
					t.Errorf("want error message, got %s", resp.Error)
				}
			},
		},
		{
			name:    "response with logs",
			input:   `{"status":"ok","logs":[{"level":"info","message":"test log"}]}`,
			wantErr: false,
			checkFn: func(t *testing.T, resp *Response) {
				if len(resp.Logs) != 1 {
					t.Fatalf("want 1 log, got %d", len(resp.Logs))
				}
				if resp.Logs[0].Level != "info" {
					t.Error("log level not parsed")
				}
			},
		},
		{
			name:    "unknown field rejected",
			input:   `{"status":"ok","retry":true}`,
			wantErr: true,
		},
		{
			name:    "missing status field",
			input:   `{"tests":[]}`,
			wantErr: true,
		},
		{
			name:    "invalid status value",
			input:   `{"status":"unknown"}`,
			wantErr: true,
		},
		{
			name:    "error status without message",
			input:   `{"status":"error"}`,
			wantErr: true,
		},
		{
			name:    "invalid JSON",
			input:   `{not json}`,
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(strings.NewReader(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantErr     bool
		wantRawData bool
	}{
		{
			name:        "valid JSON response",
			input:       `{"status":"ok"}`,
			wantErr:     false,
			wantRawData: true,
		},
		{
			name:        "unknown fields tolerated",
			input:       `{"status":"ok","duration_ms":12}`,
			wantErr:     false,
			wantRawData: true,
		},
		{
			name:        "invalid JSON captures raw data",
			input:       `not json at all`,
			wantErr:     true,
			wantRawData: true,
		},
		{
			name:        "empty output",
			input:       ``,
			wantErr:     true,
			wantRawData: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, rawData, err := DecodeResponseLenient(strings.NewReader(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeResponseLenient() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantRawData && len(rawData) == 0 && tt.input != "" {
				t.Error("expected raw data to be captured")
			}

			if !tt.wantErr && resp == nil {
				t.Error("expected response to be parsed")
			}
		})
	}
}
