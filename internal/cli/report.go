package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

// NameFunc resolves a chart code to its display name.
type NameFunc func(code string) string

// WriteReconcileReport renders a tenant reconciliation outcome.
func WriteReconcileReport(w io.Writer, report *reconcile.Report) error {
	s := report.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "Transactions:  %d\n", s.Transactions)
	fmt.Fprintf(&b, "Invoices:      %d\n", s.Invoices)
	fmt.Fprintf(&b, "Applied:       %s (%s)\n", SuccessStyle.Render(fmt.Sprintf("%d", s.Applied)), s.AppliedAmount.StringFixed(2))
	fmt.Fprintf(&b, "Ambiguous:     %d\n", s.Ambiguous)
	fmt.Fprintf(&b, "No candidate:  %d\n", s.NoCandidate)
	fmt.Fprintf(&b, "Below score:   %d\n", s.BelowThreshold)
	fmt.Fprintf(&b, "Installments:  %d complete, %d open, %d partial\n", s.GroupsComplete, s.GroupsOpen, s.GroupsPartial)
	if s.Failures > 0 {
		fmt.Fprintf(&b, "Failures:      %s\n", ErrorStyle.Render(fmt.Sprintf("%d", s.Failures)))
	}
	fmt.Fprintf(&b, "Duration:      %s", report.Duration.Round(time.Millisecond))

	if _, err := fmt.Fprintln(w, RenderBox("Tenant "+report.TenantID, b.String())); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if len(report.Applied) > 0 {
		if err := writeApplied(w, report.Applied); err != nil {
			return err
		}
	}
	if len(report.Pending) > 0 {
		if err := writePending(w, report.Pending); err != nil {
			return err
		}
	}
	if len(report.OpenGroups) > 0 {
		if err := writeOpenGroups(w, report.OpenGroups); err != nil {
			return err
		}
	}
	for _, f := range report.Failures {
		if _, err := fmt.Fprintln(w, FormatError(failureLine(f))); err != nil {
			return fmt.Errorf("failed to write failure: %w", err)
		}
	}
	return nil
}

func failureLine(f reconcile.Failure) string {
	target := f.InvoiceID
	if f.GroupID != "" {
		target += " (group " + f.GroupID + ")"
	}
	if f.TransactionID == "" {
		return fmt.Sprintf("%s: %v", target, f.Err)
	}
	return fmt.Sprintf("%s → %s: %v", f.TransactionID, target, f.Err)
}

func writeOpenGroups(w io.Writer, groups []model.InstallmentGroup) error {
	if _, err := fmt.Fprintln(w, "\n"+FormatInfo(fmt.Sprintf("%d installment groups awaiting payments", len(groups)))); err != nil {
		return fmt.Errorf("failed to write open groups title: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, g := range groups {
		if _, err := fmt.Fprintf(tw, "%s\t%s of %s\t%d payments\n",
			g.InvoiceID,
			g.MatchedTotal.StringFixed(2),
			g.InvoiceTotal.StringFixed(2),
			len(g.TransactionIDs)); err != nil {
			return fmt.Errorf("failed to write open group row: %w", err)
		}
	}
	return tw.Flush()
}

func writeApplied(w io.Writer, records []model.ReconciliationRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("Transaction"),
		headerStyle.Render("Invoice"),
		headerStyle.Render("Method"),
		headerStyle.Render("Amount"),
		headerStyle.Render("Confidence")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\n",
			r.TransactionID, r.InvoiceID, r.Method, r.Amount.StringFixed(2), r.Confidence); err != nil {
			return fmt.Errorf("failed to write record row: %w", err)
		}
	}
	return tw.Flush()
}

func writePending(w io.Writer, pending []reconcile.PendingTransaction) error {
	if _, err := fmt.Fprintln(w, "\n"+FormatWarning(fmt.Sprintf("%d transactions need review", len(pending)))); err != nil {
		return fmt.Errorf("failed to write pending title: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range pending {
		best := "-"
		if len(p.Candidates) > 0 {
			best = fmt.Sprintf("%s (%.2f)", p.Candidates[0].InvoiceID, p.Candidates[0].Score)
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			p.Transaction.ID,
			p.Transaction.Amount.StringFixed(2),
			pendingReason(p.Reason),
			best); err != nil {
			return fmt.Errorf("failed to write pending row: %w", err)
		}
	}
	return tw.Flush()
}

func pendingReason(err error) string {
	switch {
	case errors.Is(err, common.ErrAmbiguousMatch):
		return WarningStyle.Render("ambiguous")
	case errors.Is(err, common.ErrNoCandidateFound):
		return SubtleStyle.Render("no candidate")
	case err != nil:
		return SubtleStyle.Render(err.Error())
	default:
		return ""
	}
}

// WriteClassifyReport renders a tenant classification run.
func WriteClassifyReport(w io.Writer, report *classify.Report, names NameFunc) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Classified:     %s\n", SuccessStyle.Render(fmt.Sprintf("%d", len(report.Results))))
	fmt.Fprintf(&b, "Skipped:        %d\n", report.Skipped)
	fmt.Fprintf(&b, "Overrides:      %d\n", report.Overrides)
	fmt.Fprintf(&b, "Low confidence: %d\n", report.LowConfidence)
	fmt.Fprintf(&b, "Fallbacks:      %d\n", report.Fallbacks)
	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "Failures:       %s\n", ErrorStyle.Render(fmt.Sprintf("%d", len(report.Failures))))
	}
	fmt.Fprintf(&b, "Duration:       %s", report.Duration.Round(time.Millisecond))

	if _, err := fmt.Fprintln(w, RenderBox("Tenant "+report.TenantID, b.String())); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(report.Results) > 0 {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			headerStyle.Render("Invoice"),
			headerStyle.Render("Account"),
			headerStyle.Render("Confidence"),
			headerStyle.Render("Flags")); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for i := range report.Results {
		r := &report.Results[i]
		code, confidence := deepest(r)
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n",
			r.InvoiceID, labelCode(code, names), confidence, flags(r)); err != nil {
			return fmt.Errorf("failed to write result row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush results: %w", err)
	}

	for _, f := range report.Failures {
		if _, err := fmt.Fprintln(w, FormatError(fmt.Sprintf("%s: %v", f.InvoiceID, f.Err))); err != nil {
			return fmt.Errorf("failed to write failure: %w", err)
		}
	}
	return nil
}

// WriteClassification renders one invoice's classification, phase by phase.
func WriteClassification(w io.Writer, result *model.ClassificationResult, names NameFunc) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Family:    %s  %.2f\n", labelCode(result.FamilyCode, names), result.FamilyConfidence)
	if result.SubfamilyCode != "" {
		fmt.Fprintf(&b, "Subfamily: %s  %.2f\n", labelCode(result.SubfamilyCode, names), result.SubfamilyConfidence)
	}
	if result.AccountCode != "" {
		fmt.Fprintf(&b, "Account:   %s  %.2f\n", labelCode(result.AccountCode, names), result.AccountConfidence)
	}
	if result.DeclaredUsage != "" {
		fmt.Fprintf(&b, "Usage:     %s\n", result.DeclaredUsage)
	}
	switch {
	case result.Override:
		fmt.Fprintf(&b, "%s\n", WarningStyle.Render("Override: "+result.OverrideReason))
	case result.OverrideReason != "":
		fmt.Fprintf(&b, "%s\n", SubtleStyle.Render("Conflict: "+result.OverrideReason))
	}
	if len(result.FallbackPhases) > 0 {
		levels := make([]string, len(result.FallbackPhases))
		for i, l := range result.FallbackPhases {
			levels[i] = string(l)
		}
		fmt.Fprintf(&b, "%s\n", SubtleStyle.Render("Fallback: "+strings.Join(levels, ", ")))
	}
	if result.LowConfidence {
		fmt.Fprintf(&b, "%s\n", WarningStyle.Render("Needs review: low confidence"))
	}
	fmt.Fprintf(&b, "Classified %s", result.ClassifiedAt.Format("2006-01-02 15:04"))

	if _, err := fmt.Fprintln(w, RenderBox("Invoice "+result.InvoiceID, b.String())); err != nil {
		return fmt.Errorf("failed to write classification: %w", err)
	}
	return nil
}

func deepest(r *model.ClassificationResult) (string, float64) {
	switch {
	case r.AccountCode != "":
		return r.AccountCode, r.AccountConfidence
	case r.SubfamilyCode != "":
		return r.SubfamilyCode, r.SubfamilyConfidence
	default:
		return r.FamilyCode, r.FamilyConfidence
	}
}

func labelCode(code string, names NameFunc) string {
	if names == nil {
		return code
	}
	if name := names(code); name != "" && name != code {
		return code + " " + name
	}
	return code
}

func flags(r *model.ClassificationResult) string {
	var out []string
	if r.Override {
		out = append(out, "override")
	}
	if len(r.FallbackPhases) > 0 {
		out = append(out, "fallback")
	}
	if r.LowConfidence {
		out = append(out, "review")
	}
	return strings.Join(out, ",")
}
