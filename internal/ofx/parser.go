// Package ofx parses OFX/QFX bank statements into transactions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/tallyfin/tallyfin/internal/model"
)

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// preprocess fixes common formatting issues in real-world OFX exports:
// leading whitespace, mixed-case SEVERITY values, and SGML-style tags
// missing their closing bracket.
func (p *Parser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	content = tagFixRegex.ReplaceAllString(content, "$1>")
	return content
}

// ParseFile parses an OFX/QFX file and returns transactions ready for the
// transaction store.
func (p *Parser) ParseFile(_ context.Context, reader io.Reader) ([]model.Transaction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.Transaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			bankStmts++
			accountID := string(stmt.BankAcctFrom.AcctID)
			for _, ofxTx := range stmt.BankTranList.Transactions {
				transactions = append(transactions, p.convert(ofxTx, accountID))
			}
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			ccStmts++
			accountID := string(stmt.CCAcctFrom.AcctID)
			for _, ofxTx := range stmt.BankTranList.Transactions {
				transactions = append(transactions, p.convert(ofxTx, accountID))
			}
		}
	}

	slog.Info("Parsed OFX file",
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

// convert maps an OFX transaction to the engine's model.
func (p *Parser) convert(ofxTx ofxgo.Transaction, accountID string) model.Transaction {
	amount, _ := ofxTx.TrnAmt.Float64()
	if amount < 0 {
		amount = -amount
	}

	txn := model.Transaction{
		ID:           string(ofxTx.FiTID),
		Date:         ofxTx.DtPosted.Time,
		Name:         string(ofxTx.Name),
		MerchantName: p.merchantName(ofxTx),
		Amount:       amount,
		AccountID:    accountID,
	}
	txn.Hash = txn.GenerateHash()

	return txn
}

// merchantName extracts the cleanest merchant name available.
func (p *Parser) merchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && isGenericDescription(name) {
		name = strings.TrimSpace(string(tx.Memo))
	}

	for _, prefix := range []string{"POS ", "DEBIT ", "CHECKCARD ", "PURCHASE "} {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}

	return name
}

// isGenericDescription reports whether a NAME field carries no merchant
// information.
func isGenericDescription(name string) bool {
	generic := []string{"DEBIT", "CREDIT", "PAYMENT", "PURCHASE", "POS", "WITHDRAWAL"}
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, g := range generic {
		if upper == g {
			return true
		}
	}
	return false
}
