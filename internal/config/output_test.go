package config

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

func newTestFormatter(format types.OutputFormat) (*OutputFormatter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	f := NewOutputFormatter(OutputOptions{Format: format, Writer: &out, ErrorWriter: &errOut})
	return f, &out, &errOut
}

func TestWriteSuccess_JSONEnvelope(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatJSON)
	f.AddWarning("ESTIMATION_FAILED", "size unknown", "warning")

	if err := f.WriteSuccess("sync estimate", map[string]int{"files": 3}); err != nil {
		t.Fatal(err)
	}
	var env types.CLIOutput
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if env.SchemaVersion != utils.SchemaVersion || env.Command != "sync estimate" {
		t.Errorf("envelope = %+v", env)
	}
	if len(env.Warnings) != 1 || env.Errors == nil || len(env.Errors) != 0 {
		t.Errorf("warnings/errors = %+v / %+v", env.Warnings, env.Errors)
	}
}

func TestWriteSuccess_Table(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatTable)
	data := &types.RemoteListResponse{Remotes: []types.RemoteInfo{{Name: "proton", Type: "protondrive"}}}
	if err := f.WriteSuccess("remotes list", data); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if !strings.Contains(text, "Name") || !strings.Contains(text, "proton") || !strings.Contains(text, "protondrive") {
		t.Errorf("table output = %q", text)
	}
}

func TestWriteSuccess_EmptyTable(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatTable)
	if err := f.WriteSuccess("history", &types.RunHistoryResponse{}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "No sync runs recorded" {
		t.Errorf("output = %q", out.String())
	}
}

func TestWriteSuccess_KeyValueSorted(t *testing.T) {
	f, out, _ := newTestFormatter(types.OutputFormatTable)
	if err := f.WriteSuccess("config path", map[string]string{"b": "2", "a": "1"}); err != nil {
		t.Fatal(err)
	}
	lineA, lineB := -1, -1
	for i, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "a"):
			lineA = i
		case strings.HasPrefix(strings.TrimSpace(line), "b"):
			lineB = i
		}
	}
	if lineA < 0 || lineB < 0 || lineA > lineB {
		t.Errorf("keys not sorted: %q", out.String())
	}
}

func TestWriteError(t *testing.T) {
	cliErr := utils.NewCLIError(utils.ErrCodeSyncInProgress, "busy").Build()

	f, out, errOut := newTestFormatter(types.OutputFormatTable)
	if err := f.WriteError("sync run", cliErr); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 || !strings.Contains(errOut.String(), "SYNC_ALREADY_IN_PROGRESS") {
		t.Errorf("table error: stdout=%q stderr=%q", out.String(), errOut.String())
	}

	f, out, _ = newTestFormatter(types.OutputFormatJSON)
	if err := f.WriteError("sync run", cliErr); err != nil {
		t.Fatal(err)
	}
	var env types.CLIOutput
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Errors) != 1 || env.Errors[0].Code != utils.ErrCodeSyncInProgress || env.TraceID == "" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestQuietSuppressesLog(t *testing.T) {
	var errOut bytes.Buffer
	f := NewOutputFormatter(OutputOptions{Format: types.OutputFormatTable, Quiet: true, ErrorWriter: &errOut, Writer: &bytes.Buffer{}})
	f.Log("hello %d", 1)
	f.Verbose("hidden")
	if errOut.Len() != 0 {
		t.Errorf("stderr = %q", errOut.String())
	}
}
