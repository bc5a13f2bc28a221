package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// OutputFormatter prints command results on stdout and errors, warnings and
// progress notes on stderr. Errors are always JSON so scripts can parse them
// whatever --output says.
type OutputFormatter struct {
	format   types.OutputFormat
	quiet    bool
	verbose  bool
	stdout   io.Writer
	stderr   io.Writer
	warnings []types.CLIWarning
}

// OutputOptions configures the output formatter
type OutputOptions struct {
	Format types.OutputFormat
	Quiet  bool
	// Verbose adds a trace ID to JSON output.
	Verbose bool
	// Writer and ErrorWriter default to stdout and stderr.
	Writer      io.Writer
	ErrorWriter io.Writer
}

func NewOutputFormatter(opts OutputOptions) *OutputFormatter {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.ErrorWriter == nil {
		opts.ErrorWriter = os.Stderr
	}
	return &OutputFormatter{
		format:  opts.Format,
		quiet:   opts.Quiet,
		verbose: opts.Verbose,
		stdout:  opts.Writer,
		stderr:  opts.ErrorWriter,
	}
}

// AddWarning attaches a warning to the next result
func (f *OutputFormatter) AddWarning(code, message, severity string) {
	f.warnings = append(f.warnings, types.CLIWarning{Code: code, Message: message, Severity: severity})
}

// WriteSuccess prints data as a JSON envelope or as a table. Table mode renders
// a types.TableRenderer as rows and anything else as sorted key/value pairs,
// with nested objects flattened into dotted keys.
func (f *OutputFormatter) WriteSuccess(command string, data interface{}) error {
	switch f.format {
	case types.OutputFormatJSON:
		envelope := f.envelope(command)
		envelope.Data = data
		if f.verbose {
			envelope.TraceID = uuid.New().String()
		}
		return writeJSON(f.stdout, envelope)
	case types.OutputFormatTable:
		f.printWarnings()
		if r, ok := data.(types.TableRenderer); ok {
			return f.renderTable(r)
		}
		pairs, err := flattenJSON(data)
		if err != nil {
			return err
		}
		return f.renderPairs(pairs)
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// WriteError prints a failed result on stderr
func (f *OutputFormatter) WriteError(command string, cliErr types.CLIError) error {
	envelope := f.envelope(command)
	envelope.TraceID = uuid.New().String()
	envelope.Errors = []types.CLIError{cliErr}
	return writeJSON(f.stderr, envelope)
}

// Log writes a progress note to stderr unless quiet
func (f *OutputFormatter) Log(format string, args ...interface{}) {
	if !f.quiet {
		_, _ = fmt.Fprintf(f.stderr, format+"\n", args...)
	}
}

func (f *OutputFormatter) envelope(command string) types.CLIOutput {
	return types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		Command:       command,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{},
	}
}

func (f *OutputFormatter) printWarnings() {
	if f.quiet {
		return
	}
	for _, w := range f.warnings {
		_, _ = fmt.Fprintf(f.stderr, "Warning [%s]: %s\n", w.Code, w.Message)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)
	return table
}

func (f *OutputFormatter) renderTable(r types.TableRenderer) error {
	rows := r.Rows()
	if len(rows) == 0 {
		if !f.quiet {
			_, err := fmt.Fprintln(f.stdout, r.EmptyMessage())
			return err
		}
		return nil
	}
	table := newTable(f.stdout)
	table.SetHeader(r.Headers())
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func (f *OutputFormatter) renderPairs(pairs map[string]interface{}) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := newTable(f.stdout)
	table.SetHeader([]string{"Key", "Value"})
	for _, k := range keys {
		table.Append([]string{k, fmt.Sprint(pairs[k])})
	}
	table.Render()
	return nil
}

// flattenJSON round-trips data through its JSON form, so json tags decide
// key names and fields tagged "-" never reach the table.
func flattenJSON(data interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	flat := make(map[string]interface{})
	if nested, ok := decoded.(map[string]interface{}); ok {
		flatten("", nested, flat)
	} else {
		flat["value"] = decoded
	}
	return flat, nil
}

func flatten(prefix string, in, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]interface{}); ok {
			flatten(key, child, out)
			continue
		}
		out[key] = v
	}
}

// TruncateString shortens s to maxLen bytes, ending in "..." when cut
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
