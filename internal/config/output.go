package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// OutputFormatter handles output formatting for CLI commands
type OutputFormatter struct {
	format         types.OutputFormat
	quiet          bool
	verbose        bool
	includeTraceID bool
	writer         io.Writer
	errorWriter    io.Writer
	warnings       []types.CLIWarning
}

// OutputOptions configures the output formatter
type OutputOptions struct {
	Format         types.OutputFormat
	Quiet          bool
	Verbose        bool
	IncludeTraceID bool
	Writer         io.Writer
	ErrorWriter    io.Writer
}

// NewOutputFormatter creates a new output formatter. Nil writers default to
// stdout and stderr.
func NewOutputFormatter(opts OutputOptions) *OutputFormatter {
	f := &OutputFormatter{
		format:         opts.Format,
		quiet:          opts.Quiet,
		verbose:        opts.Verbose,
		includeTraceID: opts.IncludeTraceID,
		writer:         opts.Writer,
		errorWriter:    opts.ErrorWriter,
		warnings:       []types.CLIWarning{},
	}
	if f.writer == nil {
		f.writer = os.Stdout
	}
	if f.errorWriter == nil {
		f.errorWriter = os.Stderr
	}
	if f.format == "" {
		f.format = types.OutputFormatTable
	}
	return f
}

func (f *OutputFormatter) Format() types.OutputFormat { return f.format }

func (f *OutputFormatter) Writer() io.Writer { return f.writer }

func (f *OutputFormatter) ErrorWriter() io.Writer { return f.errorWriter }

// AddWarning adds a warning to be included in output
func (f *OutputFormatter) AddWarning(code, message, severity string) {
	f.warnings = append(f.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (f *OutputFormatter) WriteSuccess(command string, data interface{}) error {
	traceID := ""
	if f.verbose || f.includeTraceID {
		traceID = uuid.New().String()
	}

	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       traceID,
		Command:       command,
		Data:          data,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{},
	}

	if f.verbose && traceID != "" {
		f.Verbose("Trace ID: %s", traceID)
	}

	switch f.format {
	case types.OutputFormatJSON:
		return f.writeJSON(output)
	case types.OutputFormatTable:
		return f.writeTable(data)
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// WriteError writes an error result. JSON callers get the envelope on stdout;
// table callers get a single line on stderr.
func (f *OutputFormatter) WriteError(command string, cliErr types.CLIError) error {
	if f.format != types.OutputFormatJSON {
		_, err := fmt.Fprintf(f.errorWriter, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
		return err
	}

	traceID := uuid.New().String()
	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       traceID,
		Command:       command,
		Data:          nil,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{cliErr},
	}
	if err := f.writeJSON(output); err != nil {
		return err
	}
	f.Verbose("Error occurred - Trace ID: %s", traceID)
	return nil
}

// WriteJSONLine writes v compactly on its own line, for event streams.
func (f *OutputFormatter) WriteJSONLine(v interface{}) error {
	return json.NewEncoder(f.writer).Encode(v)
}

func (f *OutputFormatter) writeJSON(data interface{}) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *OutputFormatter) writeTable(data interface{}) error {
	if len(f.warnings) > 0 && !f.quiet {
		for _, warning := range f.warnings {
			if _, err := fmt.Fprintf(f.errorWriter, "Warning [%s]: %s\n", warning.Code, warning.Message); err != nil {
				return err
			}
		}
	}

	if renderable, ok := data.(types.TableRenderable); ok {
		return f.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return f.renderTable(renderer)
	}

	switch v := data.(type) {
	case map[string]interface{}:
		return f.writeKeyValueTable(v)
	case map[string]string:
		m := make(map[string]interface{}, len(v))
		for k, val := range v {
			m[k] = val
		}
		return f.writeKeyValueTable(m)
	default:
		return f.writeJSON(data)
	}
}

func (f *OutputFormatter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !f.quiet {
			if _, err := fmt.Fprintln(f.writer, renderer.EmptyMessage()); err != nil {
				return err
			}
		}
		return nil
	}

	table := f.newTable(renderer.Headers())
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
	return nil
}

// writeKeyValueTable writes a generic key-value table, sorted by key
func (f *OutputFormatter) writeKeyValueTable(data map[string]interface{}) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := f.newTable([]string{"Key", "Value"})
	for _, key := range keys {
		table.Append([]string{key, fmt.Sprintf("%v", data[key])})
	}
	table.Render()
	return nil
}

func (f *OutputFormatter) newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(f.writer)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

// Log writes a message to stderr unless quiet mode is enabled
func (f *OutputFormatter) Log(format string, args ...interface{}) {
	if !f.quiet {
		_, _ = fmt.Fprintf(f.errorWriter, format+"\n", args...)
	}
}

// Verbose writes a message to stderr only in verbose mode
func (f *OutputFormatter) Verbose(format string, args ...interface{}) {
	if f.verbose {
		_, _ = fmt.Fprintf(f.errorWriter, "[VERBOSE] "+format+"\n", args...)
	}
}
