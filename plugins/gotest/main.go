// Command gotest is an external paratest plugin that runs Go tests.
//
// find lists the Test functions of every package under the source path
// (go test -list); each test is one TestID of the form "<import path>#<name>".
// run executes a single test with go test -run '^name$' and writes its
// output to <output>/<package>_<name>.log when an output directory is given.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/paratest/internal/protocol"
)

// idSeparator joins the package import path and the test name in a TestID.
const idSeparator = "#"

// goCommand is the go tool invoked; tests replace it with a fake.
var goCommand = "go"

// maxErrorTail bounds how much test output is echoed back in an error.
const maxErrorTail = 2000

var testName = regexp.MustCompile(`^Test[A-Za-z0-9_]*$`)

func main() {
	resp := handle(context.Background(), os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(ctx context.Context, r io.Reader) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol version %d", req.Protocol))
	}

	switch strings.TrimSpace(req.Command) {
	case protocol.CommandFind:
		return find(ctx, req)
	case protocol.CommandRun:
		return run(ctx, req)
	default:
		return errResp(fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func find(ctx context.Context, req protocol.Request) protocol.Response {
	pattern := req.Pattern
	if pattern == "" {
		pattern = "."
	}
	out, err := goTool(ctx, req.Source, "test", "-list", pattern, "./...")
	if err != nil {
		return errResp(fmt.Sprintf("go test -list: %v\n%s", err, tail(out)))
	}
	ids, err := parseList(out)
	if err != nil {
		return errResp(err.Error())
	}
	return protocol.Response{
		Status: "ok",
		Tests:  ids,
		Logs:   []protocol.LogEntry{info(fmt.Sprintf("found %d tests under %s", len(ids), req.Source))},
	}
}

// parseList turns go test -list output into TestIDs. Test names precede the
// "ok <package>" line of the package that declares them.
func parseList(out []byte) ([]string, error) {
	var (
		ids     []string
		pending []string
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		fields := strings.Fields(line)
		switch {
		case line == "":
		case fields[0] == "ok" && len(fields) >= 2:
			for _, name := range pending {
				ids = append(ids, fields[1]+idSeparator+name)
			}
			pending = pending[:0]
		case fields[0] == "?":
			// package without test files
		case fields[0] == "FAIL":
			return nil, fmt.Errorf("listing failed: %s", line)
		case testName.MatchString(line):
			pending = append(pending, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func splitID(id string) (pkg, name string, err error) {
	i := strings.LastIndex(id, idSeparator)
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("malformed test id %q (want <package>%s<TestName>)", id, idSeparator)
	}
	return id[:i], id[i+1:], nil
}

func run(ctx context.Context, req protocol.Request) protocol.Response {
	pkg, name, err := splitID(req.TestID)
	if err != nil {
		return errResp(err.Error())
	}

	out, runErr := goTool(ctx, req.Source, "test", "-count=1", "-run", "^"+regexp.QuoteMeta(name)+"$", pkg)

	var logs []protocol.LogEntry
	if req.OutputDir != "" {
		path, err := writeOutput(req.OutputDir, pkg, name, out)
		if err != nil {
			logs = append(logs, warn(fmt.Sprintf("write test output: %v", err)))
		} else {
			logs = append(logs, debug("output written to "+path))
		}
	}

	if runErr != nil {
		resp := errResp(fmt.Sprintf("%s failed: %v\n%s", name, runErr, tail(out)))
		resp.Logs = append(logs, resp.Logs...)
		return resp
	}
	return protocol.Response{Status: "ok", Logs: logs}
}

func writeOutput(dir, pkg, name string, out []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	file := strings.NewReplacer("/", "_", ".", "_").Replace(pkg) + "_" + name + ".log"
	path := filepath.Join(dir, file)
	return path, os.WriteFile(path, out, 0o644)
}

func goTool(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, goCommand, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxErrorTail {
		s = "..." + s[len(s)-maxErrorTail:]
	}
	return s
}

func errResp(message string) protocol.Response {
	return protocol.Response{
		Status: "error",
		Error:  message,
		Logs:   []protocol.LogEntry{{Level: "error", Message: message}},
	}
}

func info(msg string) protocol.LogEntry  { return protocol.LogEntry{Level: "info", Message: msg} }
func warn(msg string) protocol.LogEntry  { return protocol.LogEntry{Level: "warn", Message: msg} }
func debug(msg string) protocol.LogEntry { return protocol.LogEntry{Level: "debug", Message: msg} }
