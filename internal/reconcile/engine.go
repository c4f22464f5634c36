package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// ErrBelowThreshold marks a transaction whose best candidate did not reach the auto-apply threshold.
var ErrBelowThreshold = errors.New("best candidate below auto-apply threshold")

// Engine reconciles the transactions and invoices of a tenant.
type Engine struct {
	store service.RecordStore
	locks *tenantLocks
	now   func() time.Time
	newID func() string
	cfg   Config
}

// NewEngine creates a reconciliation engine.
func NewEngine(store service.RecordStore, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		locks: newTenantLocks(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}, nil
}

// SetClock replaces the clock used to date records and decide whether installment spans elapsed.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type scoredTransaction struct {
	txn        model.Transaction
	candidates []model.MatchCandidate
}

// Reconcile matches every unmatched transaction of the tenant.
// Rejected writes are reported per record; only cancellation and read errors abort the run.
func (e *Engine) Reconcile(ctx context.Context, tenantID string) (*Report, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	unlock := e.locks.lock(tenantID)
	defer unlock()

	report := &Report{
		TenantID:  tenantID,
		StartedAt: e.now(),
		Stats:     Stats{AppliedAmount: decimal.Zero},
	}
	defer func() { report.Duration = e.now().Sub(report.StartedAt) }()

	txns, err := e.store.GetUnmatchedTransactions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unmatched transactions: %w", err)
	}
	invoices, err := e.store.GetUnmatchedInvoices(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unmatched invoices: %w", err)
	}
	openGroups, err := e.store.GetOpenInstallmentGroups(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open installment groups: %w", err)
	}

	sortTransactions(txns)
	sortInvoices(invoices)
	report.Stats.Transactions = len(txns)
	report.Stats.Invoices = len(invoices)

	slog.Info("Starting reconciliation",
		"tenant", tenantID,
		"transactions", len(txns),
		"invoices", len(invoices),
		"open_groups", len(openGroups))

	invoiceByID := lo.KeyBy(invoices, func(inv model.Invoice) string { return inv.ID })

	// Candidate generation and scoring are pure; only application below is serial.
	mapper := iter.Mapper[model.Transaction, scoredTransaction]{MaxGoroutines: e.cfg.Workers}
	scored := mapper.Map(txns, func(txn *model.Transaction) scoredTransaction {
		return scoredTransaction{txn: *txn, candidates: e.scoreTransaction(txn, invoices)}
	})

	usedInvoices := make(map[string]bool)
	pending := make(map[string]*PendingTransaction)
	var installmentPool []model.Transaction

	for i := range scored {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		st := &scored[i]
		live := lo.Filter(st.candidates, func(c model.MatchCandidate, _ int) bool {
			return !usedInvoices[c.InvoiceID]
		})

		top, reason := e.decide(live, invoiceByID)
		if reason != nil {
			pending[st.txn.ID] = &PendingTransaction{
				Transaction: st.txn,
				Reason:      reason,
				Candidates:  lo.Slice(live, 0, e.cfg.PendingCandidates),
			}
			if !errors.Is(reason, common.ErrAmbiguousMatch) {
				installmentPool = append(installmentPool, st.txn)
			}
			continue
		}

		record := &model.ReconciliationRecord{
			ID:            e.newID(),
			TenantID:      tenantID,
			TransactionID: st.txn.ID,
			InvoiceID:     top.InvoiceID,
			Method:        model.MethodExact,
			Amount:        st.txn.AbsAmount(),
			Confidence:    top.Score,
			AppliedAt:     e.now(),
		}
		if err := e.store.ApplyMatch(ctx, record); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			slog.Error("Failed to apply match",
				"tenant", tenantID,
				"transaction", st.txn.ID,
				"invoice", top.InvoiceID,
				"error", err)
			report.Failures = append(report.Failures, Failure{
				Err:           err,
				TransactionID: st.txn.ID,
				InvoiceID:     top.InvoiceID,
			})
			continue
		}

		usedInvoices[top.InvoiceID] = true
		e.recordApplied(report, *record)
		slog.Debug("Applied match",
			"transaction", st.txn.ID,
			"invoice", top.InvoiceID,
			"score", top.Score)
	}

	if err := e.detectInstallments(ctx, report, openGroups, invoices, usedInvoices, installmentPool, pending); err != nil {
		return report, err
	}

	for _, txn := range txns {
		if p, ok := pending[txn.ID]; ok {
			report.Pending = append(report.Pending, *p)
			switch {
			case errors.Is(p.Reason, common.ErrAmbiguousMatch):
				report.Stats.Ambiguous++
			case errors.Is(p.Reason, common.ErrNoCandidateFound):
				report.Stats.NoCandidate++
			default:
				report.Stats.BelowThreshold++
			}
		}
	}
	report.PendingInvoices = lo.Filter(invoices, func(inv model.Invoice, _ int) bool {
		return !usedInvoices[inv.ID] && !inv.IsCancelled()
	})
	report.OpenGroups = stillOpen(openGroups, report.Groups)
	report.Stats.Failures = len(report.Failures)

	slog.Info("Reconciliation complete",
		"tenant", tenantID,
		"applied", report.Stats.Applied,
		"pending", len(report.Pending),
		"groups", len(report.Groups),
		"open_groups", len(report.OpenGroups),
		"failures", report.Stats.Failures)

	return report, nil
}

// ReconcileAll reconciles tenants in parallel. Reports are returned in tenant order;
// a tenant whose run fails is missing from the reports and its error is joined into err.
func (e *Engine) ReconcileAll(ctx context.Context, tenants []string, progress func(tenantID string)) ([]*Report, error) {
	p := pool.NewWithResults[*Report]().WithContext(ctx).WithMaxGoroutines(e.cfg.Workers)
	for _, tenant := range tenants {
		p.Go(func(ctx context.Context) (*Report, error) {
			defer func() {
				if progress != nil {
					progress(tenant)
				}
			}()
			report, err := e.Reconcile(ctx, tenant)
			if err != nil {
				return nil, fmt.Errorf("tenant %s: %w", tenant, err)
			}
			return report, nil
		})
	}

	reports, err := p.Wait()
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].TenantID < reports[j].TenantID
	})
	return reports, err
}

func (e *Engine) scoreTransaction(txn *model.Transaction, invoices []model.Invoice) []model.MatchCandidate {
	candidates := GenerateCandidates(txn, invoices, e.cfg)
	scored := make([]model.MatchCandidate, 0, len(candidates))
	for i := range candidates {
		scored = append(scored, Score(txn, &candidates[i], e.cfg))
	}
	RankCandidates(scored)
	return scored
}

// decide picks the candidate to auto-apply or explains why there is none.
// Invoices interchangeable with the best one do not make it ambiguous: any of them
// is the same match, and ranking already put the lowest ID first.
func (e *Engine) decide(live []model.MatchCandidate, invoices map[string]model.Invoice) (*model.MatchCandidate, error) {
	if len(live) == 0 {
		return nil, common.ErrNoCandidateFound
	}

	top := &live[0]
	if top.Score < e.cfg.AutoApplyThreshold {
		return nil, ErrBelowThreshold
	}

	topInvoice := invoices[top.InvoiceID]
	for i := 1; i < len(live); i++ {
		rival := &live[i]
		if top.Score-rival.Score > e.cfg.TieEpsilon {
			break
		}
		rivalInvoice := invoices[rival.InvoiceID]
		if !interchangeable(&topInvoice, &rivalInvoice) {
			return nil, fmt.Errorf("%w: %s and %s within %.2f", common.ErrAmbiguousMatch,
				top.InvoiceID, rival.InvoiceID, e.cfg.TieEpsilon)
		}
	}
	return top, nil
}

// detectInstallments continues open groups, then looks for new ones among leftover invoices.
func (e *Engine) detectInstallments(
	ctx context.Context,
	report *Report,
	openGroups []model.InstallmentGroup,
	invoices []model.Invoice,
	usedInvoices map[string]bool,
	txnPool []model.Transaction,
	pending map[string]*PendingTransaction,
) error {
	asOf := e.now()

	for i := range openGroups {
		if err := ctx.Err(); err != nil {
			return err
		}
		group := openGroups[i]
		inv, err := e.store.GetInvoice(ctx, group.InvoiceID)
		if err != nil {
			report.Failures = append(report.Failures, Failure{Err: err, InvoiceID: group.InvoiceID, GroupID: group.ID})
			continue
		}

		plan := DetectInstallments(inv, group.MatchedTotal, len(group.TransactionIDs), txnPool, asOf, e.cfg)
		applied, err := e.applyPlan(ctx, report, &group, &plan)
		if err != nil {
			return err
		}
		txnPool = removeTransactions(txnPool, applied, pending)
	}

	for i := range invoices {
		if err := ctx.Err(); err != nil {
			return err
		}
		inv := &invoices[i]
		if usedInvoices[inv.ID] || inv.IsCancelled() || inv.Total.LessThan(e.cfg.MinInstallmentTotal) {
			continue
		}

		plan := DetectInstallments(inv, decimal.Zero, 0, txnPool, asOf, e.cfg)
		if plan.Outcome == NoInstallments {
			continue
		}

		group := &model.InstallmentGroup{
			ID:        e.newID(),
			TenantID:  inv.TenantID,
			InvoiceID: inv.ID,
		}
		applied, err := e.applyPlan(ctx, report, group, &plan)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			usedInvoices[inv.ID] = true
		}
		txnPool = removeTransactions(txnPool, applied, pending)
	}

	return nil
}

// applyPlan persists a detector verdict. It returns the transactions that joined the group;
// the error is non-nil only when the run must stop.
func (e *Engine) applyPlan(ctx context.Context, report *Report, group *model.InstallmentGroup, plan *InstallmentPlan) ([]model.Transaction, error) {
	switch plan.Outcome {
	case NoInstallments:
		return nil, nil
	case InstallmentsRejected:
		report.Stats.GroupsRejected++
		slog.Debug("Rejected installment group",
			"invoice", plan.Invoice.ID,
			"reason", "payments overshoot invoice total")
		return nil, nil
	}

	group.Status = plan.Outcome.Status()
	confidence := plan.Confidence()
	records := make([]model.ReconciliationRecord, 0, len(plan.Transactions))
	for i := range plan.Transactions {
		txn := &plan.Transactions[i]
		records = append(records, model.ReconciliationRecord{
			ID:            e.newID(),
			TenantID:      group.TenantID,
			TransactionID: txn.ID,
			InvoiceID:     group.InvoiceID,
			GroupID:       group.ID,
			Method:        model.MethodInstallment,
			Amount:        txn.AbsAmount(),
			Confidence:    confidence,
			AppliedAt:     e.now(),
		})
	}

	if err := e.store.ApplyInstallmentGroup(ctx, group, records); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Error("Failed to apply installment group",
			"group", group.ID,
			"invoice", group.InvoiceID,
			"error", err)
		report.Failures = append(report.Failures, Failure{Err: err, InvoiceID: group.InvoiceID, GroupID: group.ID})
		return nil, nil
	}

	for i := range records {
		group.TransactionIDs = append(group.TransactionIDs, records[i].TransactionID)
		e.recordApplied(report, records[i])
	}
	group.UpdatedAt = e.now()
	report.Groups = append(report.Groups, *group)

	switch group.Status {
	case model.GroupComplete:
		report.Stats.GroupsComplete++
	case model.GroupIncomplete:
		report.Stats.GroupsPartial++
	default:
		report.Stats.GroupsOpen++
	}

	slog.Info("Applied installment group",
		"invoice", group.InvoiceID,
		"status", group.Status,
		"payments", len(group.TransactionIDs),
		"matched", group.MatchedTotal.StringFixed(2),
		"total", group.InvoiceTotal.StringFixed(2))

	return plan.Transactions, nil
}

func (e *Engine) recordApplied(report *Report, record model.ReconciliationRecord) {
	report.Applied = append(report.Applied, record)
	report.Stats.Applied++
	report.Stats.AppliedAmount = report.Stats.AppliedAmount.Add(record.Amount)
}

// stillOpen merges the groups loaded at the start of a run with those written during
// it and keeps the ones that remain open, ordered by invoice.
func stillOpen(loaded, touched []model.InstallmentGroup) []model.InstallmentGroup {
	byID := lo.KeyBy(loaded, func(g model.InstallmentGroup) string { return g.ID })
	for _, g := range touched {
		byID[g.ID] = g
	}
	open := lo.Filter(lo.Values(byID), func(g model.InstallmentGroup, _ int) bool {
		return g.Status == model.GroupOpen
	})
	sort.Slice(open, func(i, j int) bool {
		if open[i].InvoiceID != open[j].InvoiceID {
			return open[i].InvoiceID < open[j].InvoiceID
		}
		return open[i].ID < open[j].ID
	})
	return open
}

func removeTransactions(txns []model.Transaction, remove []model.Transaction, pending map[string]*PendingTransaction) []model.Transaction {
	if len(remove) == 0 {
		return txns
	}
	gone := make(map[string]bool, len(remove))
	for _, t := range remove {
		gone[t.ID] = true
		delete(pending, t.ID)
	}
	return lo.Filter(txns, func(t model.Transaction, _ int) bool { return !gone[t.ID] })
}

func sortTransactions(txns []model.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		return txns[i].ID < txns[j].ID
	})
}

func sortInvoices(invoices []model.Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].IssueDate.Equal(invoices[j].IssueDate) {
			return invoices[i].IssueDate.Before(invoices[j].IssueDate)
		}
		return invoices[i].ID < invoices[j].ID
	})
}
