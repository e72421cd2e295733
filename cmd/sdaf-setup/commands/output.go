package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/sapautomation/sdaf-setup/internal/config"
	"github.com/sapautomation/sdaf-setup/internal/orchestrator"
	"github.com/sapautomation/sdaf-setup/internal/services"
	"github.com/sapautomation/sdaf-setup/internal/utils"
)

const detailWidth = 80

var statusSymbols = map[orchestrator.Status]string{
	orchestrator.StatusPending: " ",
	orchestrator.StatusRunning: "…",
	orchestrator.StatusSuccess: "✓",
	orchestrator.StatusError:   "✗",
	orchestrator.StatusSkipped: "-",
}

// ProgressObserver prints a line per step transition. Pending notifications are not
// printed since every step starts out pending.
func ProgressObserver(w io.Writer) orchestrator.Observer {
	return func(result orchestrator.StepResult) {
		switch result.Status {
		case orchestrator.StatusPending:
			return
		case orchestrator.StatusRunning:
			fmt.Fprintf(w, "%s %s\n", statusSymbols[result.Status], result.Name)
		default:
			fmt.Fprintf(w, "%s %s (%s)\n", statusSymbols[result.Status], result.Name, result.Duration.Round(time.Millisecond))
		}
	}
}

// RenderReport prints the step table followed by anything the run created
func RenderReport(w io.Writer, report *orchestrator.Report) {
	table := uitable.New()
	table.MaxColWidth = detailWidth
	table.Wrap = true
	table.AddRow("", "STEP", "STATUS", "DETAIL")
	for _, step := range report.Steps {
		table.AddRow(statusSymbols[step.Status], step.Name, string(step.Status), step.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, table)

	if len(report.Created) > 0 {
		fmt.Fprintln(w)
		if report.Failed() != nil {
			fmt.Fprintln(w, "Created before the failure (not rolled back):")
		} else {
			fmt.Fprintln(w, "Created:")
		}
		for _, item := range report.Created {
			fmt.Fprintf(w, "  • %s\n", item)
		}
	}
	fmt.Fprintf(w, "\nrun id: %s\n", report.RunID)
}

// RenderJSON writes the report as indented JSON
func RenderJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// RenderValues prints key/value pairs, masking credentials unless reveal is set
func RenderValues(w io.Writer, values map[string]string, reveal bool) {
	table := uitable.New()
	table.MaxColWidth = detailWidth
	table.AddRow("KEY", "VALUE")
	for _, kv := range utils.Sorted(values) {
		value := kv.Value
		if !reveal && config.IsCredentialKey(kv.Key) {
			value = Mask(value)
		}
		table.AddRow(kv.Key, value)
	}
	fmt.Fprintln(w, table)
}

// Mask hides all but the last four characters of a secret
func Mask(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 8:
		return strings.Repeat("*", len(value))
	default:
		return strings.Repeat("*", 8) + value[len(value)-4:]
	}
}

// RenderDiagnosis prints the state of a service principal
func RenderDiagnosis(w io.Writer, d *services.Diagnosis) {
	table := uitable.New()
	table.MaxColWidth = detailWidth
	table.Wrap = true
	table.AddRow("App id:", d.AppID)
	table.AddRow("Object id:", d.ObjectID)
	table.AddRow("Display name:", d.DisplayName)
	table.AddRow("Roles:", strings.Join(d.Roles, ", "))
	table.AddRow("Missing roles:", strings.Join(d.MissingRoles, ", "))
	table.AddRow("Federated subjects:", strings.Join(d.Federated, ", "))
	fmt.Fprintln(w, table)

	if d.Healthy() {
		fmt.Fprintln(w, "\n✓ service principal holds every required role")
	} else {
		fmt.Fprintf(w, "\n✗ %d required role(s) missing\n", len(d.MissingRoles))
	}
}

// RenderEnvironments prints one environment name per row
func RenderEnvironments(w io.Writer, names []string) {
	table := uitable.New()
	table.AddRow("ENVIRONMENT")
	for _, name := range names {
		table.AddRow(name)
	}
	fmt.Fprintln(w, table)
}
