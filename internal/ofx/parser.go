// Package ofx reads bank and card statements in OFX/QFX format into transactions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags at the end of a line that lost their closing bracket.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in bank exports.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseFile parses a statement and returns its transactions for the tenant.
// Amounts keep the statement sign: debits are negative.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader, tenantID string) ([]model.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.Transaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			transactions = append(transactions, p.convertList(stmt.BankTranList, string(stmt.BankAcctFrom.AcctID), tenantID)...)
		}
	}

	for _, msg := range resp.CreditCard {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			transactions = append(transactions, p.convertList(stmt.BankTranList, string(stmt.CCAcctFrom.AcctID), tenantID)...)
		}
	}

	slog.Info("Parsed OFX file",
		"tenant", tenantID,
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

func (p *Parser) convertList(list *ofxgo.TransactionList, accountID, tenantID string) []model.Transaction {
	if list == nil {
		return nil
	}
	transactions := make([]model.Transaction, 0, len(list.Transactions))
	for _, ofxTx := range list.Transactions {
		transactions = append(transactions, p.convertTransaction(ofxTx, accountID, tenantID))
	}
	return transactions
}

// convertTransaction converts an OFX transaction to our model. The FITID is
// only unique within an account, so the account is part of the ID.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, accountID, tenantID string) model.Transaction {
	tx := model.Transaction{
		ID:          fmt.Sprintf("%s-%s", accountID, ofxTx.FiTID),
		TenantID:    tenantID,
		AccountID:   accountID,
		Date:        ofxTx.DtPosted.Time.UTC(),
		Description: p.description(ofxTx),
		Amount:      decimal.NewFromBigRat(&ofxTx.TrnAmt.Rat, 2),
	}
	tx.Hash = tx.GenerateHash()
	return tx
}

// description joins the name and memo fields. Mexican banks often print the
// counterpart and SPEI reference in the memo.
func (p *Parser) description(tx ofxgo.Transaction) string {
	var parts []string
	if tx.Payee != nil && tx.Payee.Name != "" {
		parts = append(parts, strings.TrimSpace(string(tx.Payee.Name)))
	}
	if name := strings.TrimSpace(string(tx.Name)); name != "" {
		parts = append(parts, name)
	}
	if memo := strings.TrimSpace(string(tx.Memo)); memo != "" && !isGenericDescription(memo) {
		parts = append(parts, memo)
	}
	return strings.Join(parts, " ")
}

// isGenericDescription checks if a statement field carries no counterpart information.
func isGenericDescription(s string) bool {
	switch strings.ToUpper(s) {
	case "DEBIT", "CREDIT", "CARGO", "ABONO", "PAGO", "COMPRA":
		return true
	}
	return false
}

// GetAccounts extracts unique account IDs from the OFX file.
func (p *Parser) GetAccounts(reader io.Reader) ([]string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	seen := make(map[string]bool)
	var accounts []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			accounts = append(accounts, id)
		}
	}

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			add(string(stmt.BankAcctFrom.AcctID))
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			add(string(stmt.CCAcctFrom.AcctID))
		}
	}

	return accounts, nil
}
