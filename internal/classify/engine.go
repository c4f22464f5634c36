package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/evidence"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Engine runs the three classification phases and persists the result.
type Engine struct {
	store     service.ClassificationStore
	contexts  service.ContextProvider
	retriever evidence.Retriever
	learner   evidence.Learner
	chart     *Chart
	family    *FamilyClassifier
	subfamily *NarrowClassifier
	account   *NarrowClassifier
	cache     *resultCache
	now       func() time.Time
	cfg       Config
}

// NewEngine creates a classification engine over the default chart and lexicon.
// A nil retriever classifies from the lexicon alone.
func NewEngine(store service.ClassificationStore, contexts service.ContextProvider, retriever evidence.Retriever, cfg Config) (*Engine, error) {
	return NewEngineWithChart(store, contexts, retriever, DefaultChart(), DefaultLexicon(), cfg)
}

// NewEngineWithChart creates a classification engine over a custom chart.
func NewEngineWithChart(store service.ClassificationStore, contexts service.ContextProvider, retriever evidence.Retriever, chart *Chart, lexicon *Lexicon, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if retriever == nil {
		retriever = evidence.None{}
	}
	return &Engine{
		store:     store,
		contexts:  contexts,
		retriever: retriever,
		chart:     chart,
		family:    NewFamilyClassifier(chart, lexicon, cfg),
		subfamily: NewNarrowClassifier(chart, lexicon, cfg, model.LevelSubfamily),
		account:   NewNarrowClassifier(chart, lexicon, cfg, model.LevelAccount),
		cache:     newResultCache(cfg.CacheTTL),
		now:       func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
	}, nil
}

// SetLearner makes the engine remember confident classifications.
func (e *Engine) SetLearner(l evidence.Learner) {
	e.learner = l
}

// SetClock replaces the clock used to date results.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Chart returns the chart of accounts the engine classifies into.
func (e *Engine) Chart() *Chart {
	return e.chart
}

// Classify returns the classification of an invoice, computing and persisting it
// unless a cached result exists.
func (e *Engine) Classify(ctx context.Context, invoiceID string) (*model.ClassificationResult, error) {
	if result, ok := e.cache.get(invoiceID); ok {
		return result, nil
	}
	return e.classify(ctx, invoiceID)
}

// Reclassify ignores any cached result and supersedes the stored one.
func (e *Engine) Reclassify(ctx context.Context, invoiceID string) (*model.ClassificationResult, error) {
	e.cache.invalidate(invoiceID)
	return e.classify(ctx, invoiceID)
}

// Result returns the current classification without computing a new one.
func (e *Engine) Result(ctx context.Context, invoiceID string) (*model.ClassificationResult, error) {
	if result, ok := e.cache.get(invoiceID); ok {
		return result, nil
	}
	result, err := e.store.GetClassification(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	e.cache.set(result)
	return result, nil
}

func (e *Engine) classify(ctx context.Context, invoiceID string) (*model.ClassificationResult, error) {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice %s: %w", invoiceID, err)
	}

	bc := e.businessContext(ctx, inv.TenantID)

	result := &model.ClassificationResult{
		InvoiceID:     inv.ID,
		TenantID:      inv.TenantID,
		DeclaredUsage: inv.UsageCode,
		ClassifiedAt:  e.now(),
	}

	// Phase 1: family.
	families := e.chart.Families()
	retrieved, unavailable, err := e.retrieve(ctx, inv, model.LevelFamily, families)
	if err != nil {
		return nil, err
	}
	fam := e.family.Classify(inv, bc, retrieved)
	fam.Fallback = unavailable
	e.recordPhase(result, model.LevelFamily, fam)

	// Phases 2 and 3 narrow within the parent unless the parent is unreliable.
	parent := fam
	for phase, narrow := range []*NarrowClassifier{e.subfamily, e.account} {
		if phase+2 > e.cfg.Depth {
			break
		}

		candidates := e.chart.Children(parent.Code)
		fallback := parent.Confidence < e.cfg.threshold(phase+1) || len(candidates) == 0

		var unavailable bool
		if !fallback {
			retrieved, unavailable, err = e.retrieve(ctx, inv, narrow.Level(), candidates)
			if err != nil {
				return nil, err
			}
			fallback = unavailable
		}
		if fallback {
			candidates = e.defaults(narrow.Level())
			retrieved = nil
			if !unavailable {
				retrieved, _, err = e.retrieve(ctx, inv, narrow.Level(), candidates)
				if err != nil {
					return nil, err
				}
			}
		}

		res := narrow.Classify(inv, bc, retrieved, candidates)
		res.Fallback = fallback
		e.recordPhase(result, narrow.Level(), res)
		parent = res
	}

	e.cache.invalidate(inv.ID)
	if err := e.store.SaveClassification(ctx, result); err != nil {
		return nil, fmt.Errorf("%w: failed to save classification for %s: %w", common.ErrClassificationFailed, inv.ID, err)
	}
	e.cache.set(result)

	if result.Override {
		slog.Info("Declared usage overridden",
			"invoice", inv.ID,
			"usage", inv.UsageCode,
			"family", result.FamilyCode,
			"reason", result.OverrideReason)
	}

	e.learn(ctx, inv, result)
	return result, nil
}

// recordPhase copies a phase outcome into the result.
func (e *Engine) recordPhase(result *model.ClassificationResult, level model.ClassificationLevel, res model.PhaseResult) {
	switch level {
	case model.LevelFamily:
		result.FamilyCode = res.Code
		result.FamilyConfidence = res.Confidence
		result.Override = res.Override
		result.OverrideReason = res.OverrideReason
		if res.Confidence < e.cfg.FamilyThreshold {
			result.LowConfidence = true
		}
	case model.LevelSubfamily:
		result.SubfamilyCode = res.Code
		result.SubfamilyConfidence = res.Confidence
		if res.Confidence < e.cfg.SubfamilyThreshold {
			result.LowConfidence = true
		}
	case model.LevelAccount:
		result.AccountCode = res.Code
		result.AccountConfidence = res.Confidence
		if res.Confidence < e.cfg.AccountThreshold {
			result.LowConfidence = true
		}
	}
	if res.Fallback {
		result.FallbackPhases = append(result.FallbackPhases, level)
	}
}

func (e *Engine) defaults(level model.ClassificationLevel) []string {
	if level == model.LevelSubfamily {
		return e.chart.DefaultSubfamilies()
	}
	return e.chart.DefaultAccounts()
}

// retrieve asks for semantic evidence. An unavailable source is reported through
// the boolean; only the caller's own cancellation is returned as an error.
func (e *Engine) retrieve(ctx context.Context, inv *model.Invoice, level model.ClassificationLevel, candidates []string) (model.EvidenceRankings, bool, error) {
	query := evidence.Query{
		TenantID: inv.TenantID,
		Content:  inv.Content(),
		Level:    level,
		Candidates: lo.Map(candidates, func(code string, _ int) evidence.Candidate {
			return evidence.Candidate{Code: code, Name: e.chart.Name(code)}
		}),
	}

	rankings, err := e.retriever.Retrieve(ctx, query, e.cfg.TopK)
	if err == nil {
		return rankings.Restrict(candidates), false, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, false, ctxErr
	}
	if !errors.Is(err, common.ErrEvidenceUnavailable) {
		slog.Warn("Evidence retriever failed", "invoice", inv.ID, "level", level, "error", err)
	}
	slog.Warn("Falling back to default candidates",
		"invoice", inv.ID,
		"level", level)
	return nil, true, nil
}

// businessContext never fails classification: a missing context only removes a boost.
func (e *Engine) businessContext(ctx context.Context, tenantID string) model.BusinessContext {
	if e.contexts == nil {
		return model.BusinessContext{TenantID: tenantID}
	}
	bc, err := e.contexts.GetContext(ctx, tenantID)
	if err != nil {
		slog.Warn("Business context unavailable", "tenant", tenantID, "error", err)
		return model.BusinessContext{TenantID: tenantID}
	}
	return bc
}

// learn remembers confident codes so later retrieval can find similar invoices.
func (e *Engine) learn(ctx context.Context, inv *model.Invoice, result *model.ClassificationResult) {
	if e.learner == nil || result.LowConfidence {
		return
	}

	content := inv.Content()
	for _, p := range []struct {
		level      model.ClassificationLevel
		code       string
		confidence float64
	}{
		{model.LevelFamily, result.FamilyCode, result.FamilyConfidence},
		{model.LevelSubfamily, result.SubfamilyCode, result.SubfamilyConfidence},
		{model.LevelAccount, result.AccountCode, result.AccountConfidence},
	} {
		if p.code == "" || p.confidence < e.cfg.LearnThreshold {
			continue
		}
		if err := e.learner.Remember(ctx, inv.TenantID, content, p.level, p.code); err != nil {
			slog.Warn("Failed to remember classification",
				"invoice", inv.ID,
				"level", p.level,
				"error", err)
			return
		}
	}
}

type outcome struct {
	err     error
	result  *model.ClassificationResult
	invoice string
}

// ClassifyTenant classifies every invoice of a tenant in parallel. Invoices that
// already have a result are skipped unless force is set; cancelled invoices are
// always skipped. A failing invoice does not stop the others.
func (e *Engine) ClassifyTenant(ctx context.Context, tenantID string, force bool) (*Report, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	report := &Report{TenantID: tenantID, StartedAt: e.now()}
	defer func() { report.Duration = e.now().Sub(report.StartedAt) }()

	invoices, err := e.store.GetInvoices(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}

	var todo []model.Invoice
	for _, inv := range invoices {
		if inv.IsCancelled() {
			report.Skipped++
			continue
		}
		if !force {
			_, err := e.store.GetClassification(ctx, inv.ID)
			if err == nil {
				report.Skipped++
				continue
			}
			if !errors.Is(err, common.ErrNotFound) {
				return nil, fmt.Errorf("failed to check classification of %s: %w", inv.ID, err)
			}
		}
		todo = append(todo, inv)
	}

	slog.Info("Starting classification",
		"tenant", tenantID,
		"invoices", len(todo),
		"skipped", report.Skipped)

	p := pool.NewWithResults[outcome]().WithContext(ctx).WithMaxGoroutines(e.cfg.Workers)
	for _, inv := range todo {
		p.Go(func(ctx context.Context) (outcome, error) {
			var (
				result *model.ClassificationResult
				err    error
			)
			if force {
				result, err = e.Reclassify(ctx, inv.ID)
			} else {
				result, err = e.Classify(ctx, inv.ID)
			}
			return outcome{invoice: inv.ID, result: result, err: err}, nil
		})
	}
	outcomes, _ := p.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].invoice < outcomes[j].invoice })
	for _, o := range outcomes {
		if o.err != nil {
			slog.Error("Failed to classify invoice", "invoice", o.invoice, "error", o.err)
			report.Failures = append(report.Failures, Failure{InvoiceID: o.invoice, Err: o.err})
			continue
		}
		report.Results = append(report.Results, *o.result)
		if o.result.Override {
			report.Overrides++
		}
		if o.result.LowConfidence {
			report.LowConfidence++
		}
		if len(o.result.FallbackPhases) > 0 {
			report.Fallbacks++
		}
	}

	slog.Info("Classification complete",
		"tenant", tenantID,
		"classified", len(report.Results),
		"overrides", report.Overrides,
		"low_confidence", report.LowConfidence,
		"failures", len(report.Failures))

	return report, nil
}
