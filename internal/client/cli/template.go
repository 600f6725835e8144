package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/template"
	"time"
)

const rowTemplate = `
=== {{.Table}}/{{.ID}} ===
{{range .Columns}}
{{printf "%-*s" $.Width .Name}}  {{.Value}}
{{- end}}
`

const statusTemplate = `
=== Sync Status ===

Relay:  {{.Relay}}
{{- if .RelayError}} (unreachable: {{.RelayError}}){{end}}
{{range .Owners}}
Owner:      {{.ID}}
Node:       {{.Node}}
Operations: {{.Operations}}
Root:       {{.Root}}
{{- if .State}}
State:      {{.State}}{{if .At}} at {{.At}}{{end}}
{{- end}}
{{- if .Reason}}
Reason:     {{.Reason}}
{{- end}}
{{end}}`

var (
	rowTmpl    = template.Must(template.New("row").Parse(rowTemplate))
	statusTmpl = template.Must(template.New("status").Parse(statusTemplate))
)

type columnView struct {
	Name  string
	Value string
}

type rowView struct {
	Table   string
	ID      string
	Columns []columnView
	Width   int
}

func newRowView(table, id string, values map[string]json.RawMessage) rowView {
	view := rowView{Table: table, ID: id}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		view.Columns = append(view.Columns, columnView{Name: name + ":", Value: string(values[name])})
		view.Width = max(view.Width, len(name)+1)
	}
	return view
}

func renderRow(w io.Writer, table, id string, values map[string]json.RawMessage) error {
	if err := rowTmpl.Execute(w, newRowView(table, id, values)); err != nil {
		return fmt.Errorf("failed to render row: %w", err)
	}
	return nil
}

type ownerStatus struct {
	ID         string
	Node       string
	Root       string
	State      string
	At         string
	Reason     string
	Operations int
}

type statusView struct {
	Relay      string
	RelayError string
	Owners     []ownerStatus
}

func renderStatus(w io.Writer, view statusView) error {
	if err := statusTmpl.Execute(w, view); err != nil {
		return fmt.Errorf("failed to render status: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
