package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"llmn/internal/services"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates an --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", errors.Newf("unsupported output format: %s (want table, json or yaml)", s)
	}
}

// ServiceRow is the printable view of one service.
type ServiceRow struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Group       string          `json:"group" yaml:"group"`
	Mode        string          `json:"mode" yaml:"mode"`
	Enabled     bool            `json:"enabled" yaml:"enabled"`
	Status      services.Status `json:"status" yaml:"status"`
	State       string          `json:"state,omitempty" yaml:"state,omitempty"`
	Profiles    []string        `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	LastChecked *time.Time      `json:"lastChecked,omitempty" yaml:"lastChecked,omitempty"`
}

// RowFor snapshots s.
func RowFor(s *services.Service) ServiceRow {
	st := s.State()
	row := ServiceRow{
		ID:       s.ID(),
		Name:     s.Name(),
		Group:    s.Group(),
		Mode:     string(s.Mode()),
		Enabled:  st.Enabled,
		Status:   st.Status(),
		State:    st.Raw,
		Profiles: s.Profiles(),
	}
	if !st.LastChecked.IsZero() {
		t := st.LastChecked
		row.LastChecked = &t
	}
	return row
}

// RowsFor snapshots every service in list.
func RowsFor(list []*services.Service) []ServiceRow {
	rows := make([]ServiceRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, RowFor(s))
	}
	return rows
}

// VersionRow lists one image or application version.
type VersionRow struct {
	Service    string `json:"service" yaml:"service"`
	Container  string `json:"container,omitempty" yaml:"container,omitempty"`
	Image      string `json:"image,omitempty" yaml:"image,omitempty"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	Build      string `json:"build,omitempty" yaml:"build,omitempty"`
	AppVersion string `json:"appVersion,omitempty" yaml:"appVersion,omitempty"`
}

// Printer renders command output in the selected format.
type Printer struct {
	out    io.Writer
	format OutputFormat
	debug  bool
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer, format OutputFormat, debug bool) *Printer {
	if format == "" {
		format = OutputFormatTable
	}
	return &Printer{out: out, format: format, debug: debug}
}

// Format returns the selected output format.
func (p *Printer) Format() OutputFormat { return p.format }

// Data writes v as JSON or YAML. In table mode it falls back to YAML.
func (p *Printer) Data(v interface{}) error {
	if p.format == OutputFormatJSON {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to convert to YAML")
	}
	_, err = p.out.Write(data)
	return err
}

// Services prints the status table.
func (p *Printer) Services(rows []ServiceRow) error {
	if p.format != OutputFormatTable {
		return p.Data(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(p.out, text.FgYellow.Sprint("No services found"))
		return nil
	}

	t := p.newTable()
	t.AppendHeader(header("ID", "NAME", "GROUP", "MODE", "ENABLED", "STATUS", "STATE"))
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.ID,
			truncate(r.Name, 30),
			formatType(r.Group),
			r.Mode,
			formatEnabled(r.Enabled),
			FormatStatus(r.Status),
			dash(r.State),
		})
	}
	t.Render()
	return nil
}

// Endpoints prints endpoints, hiding credentials unless showCredentials is set.
func (p *Printer) Endpoints(title string, eps []services.Endpoint, showCredentials bool) error {
	if p.format != OutputFormatTable {
		if !showCredentials {
			eps = withoutCredentials(eps)
		}
		return p.Data(eps)
	}
	if len(eps) == 0 {
		return nil
	}

	t := p.newTable()
	t.SetTitle(title)
	headers := []string{"SERVICE", "ENDPOINT", "URL"}
	if showCredentials {
		headers = append(headers, "CREDENTIALS")
	}
	t.AppendHeader(header(headers...))
	for _, e := range eps {
		name := e.Name
		if name == "" {
			name = e.Key
		}
		row := table.Row{e.Service, name, text.FgHiBlue.Sprint(e.URL)}
		if showCredentials {
			var creds []string
			for _, c := range e.Credentials {
				creds = append(creds, fmt.Sprintf("%s: %s", c.Label, c.Value))
			}
			row = append(row, dash(strings.Join(creds, "\n")))
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

// Versions prints image and application versions.
func (p *Printer) Versions(rows []VersionRow) error {
	if p.format != OutputFormatTable {
		return p.Data(rows)
	}
	t := p.newTable()
	t.AppendHeader(header("SERVICE", "CONTAINER", "IMAGE / BUILD", "VERSION", "APP VERSION"))
	for _, r := range rows {
		image := r.Image
		if image == "" {
			image = r.Build
		}
		t.AppendRow(table.Row{r.Service, dash(r.Container), truncate(dash(image), 60), formatVersion(r.Version), dash(r.AppVersion)})
	}
	t.Render()
	return nil
}

// Messages prints result messages. Debug lines only show in debug mode.
func (p *Printer) Messages(msgs []services.Message) {
	for _, m := range msgs {
		switch m.Level {
		case services.LevelDebug:
			if p.debug {
				fmt.Fprintln(p.out, text.FgHiBlack.Sprint(m.Text))
			}
		case services.LevelInfo:
			fmt.Fprintln(p.out, m.Text)
		case services.LevelWarning:
			fmt.Fprintln(p.out, text.FgYellow.Sprint("⚠️  "+m.Text))
		case services.LevelError:
			fmt.Fprintln(p.out, text.FgRed.Sprint("❌ "+m.Text))
		}
	}
}

// Success prints a highlighted confirmation line.
func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintln(p.out, text.FgGreen.Sprint("✔ "+fmt.Sprintf(format, args...)))
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}

// FormatStatus adds color coding and an icon to a service status.
func FormatStatus(s services.Status) string {
	switch s {
	case services.StatusRunning:
		return text.FgGreen.Sprint("🟢 " + string(s))
	case services.StatusUnhealthy:
		return text.FgRed.Sprint("❌ " + string(s))
	case services.StatusStarted:
		return text.FgYellow.Sprint("🟡 " + string(s))
	case services.StatusReady:
		return text.FgCyan.Sprint("🔵 " + string(s))
	case services.StatusDisabled:
		return text.FgHiBlack.Sprint("⚪ " + string(s))
	default:
		return string(s)
	}
}

func formatVersion(v string) string {
	switch v {
	case "":
		return dash(v)
	case "N/A":
		return text.FgHiBlack.Sprint(v)
	default:
		return text.FgGreen.Sprint(v)
	}
}

func formatEnabled(enabled bool) string {
	if enabled {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgHiBlack.Sprint("no")
}

func formatType(typ string) string {
	return text.FgCyan.Sprint(dash(typ))
}

func dash(s string) string {
	if s == "" {
		return text.FgHiBlack.Sprint("-")
	}
	return s
}

// truncate shortens s to width display cells.
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

func withoutCredentials(eps []services.Endpoint) []services.Endpoint {
	out := make([]services.Endpoint, len(eps))
	for i, e := range eps {
		e.Credentials = nil
		out[i] = e
	}
	return out
}
