package validate

import (
	"fmt"
	"math"

	"github.com/rmoura-dev/docflow/internal/entity"
)

// Issue codes produced by the ledger validator.
const (
	CodeUnbalancedEntries        = "UNBALANCED_ENTRIES"
	CodeSyntheticWithoutChildren = "SYNTHETIC_WITHOUT_CHILDREN"
	CodeInvalidAccountCodes      = "INVALID_ACCOUNT_CODES"
	CodeInconsistentBalances     = "INCONSISTENT_BALANCES"
)

// Epsilon is the tolerance for monetary comparisons.
const Epsilon = 0.01

const maxDetails = 10

// UnbalancedEntry describes one entry whose debits and credits diverge.
type UnbalancedEntry struct {
	EntryNumber string  `json:"entry_number"`
	EntryDate   string  `json:"entry_date"`
	TotalDebit  float64 `json:"total_debit"`
	TotalCredit float64 `json:"total_credit"`
	Difference  float64 `json:"difference"`
}

// InconsistentBalance describes a balance row whose final balance does not
// follow from initial balance plus movements.
type InconsistentBalance struct {
	AccountCode     string  `json:"account_code"`
	PeriodDate      string  `json:"period_date"`
	InitialBalance  float64 `json:"initial_balance"`
	DebitTotal      float64 `json:"debit_total"`
	CreditTotal     float64 `json:"credit_total"`
	FinalBalance    float64 `json:"final_balance"`
	CalculatedFinal float64 `json:"calculated_final"`
}

// Ledger runs every accounting check over a parsed ledger and produces a
// deterministic report. It never mutates its input and never fails:
// business-rule violations are report data, not errors.
func Ledger(result *Input) *entity.ValidationReport {
	report := entity.NewValidationReport()

	checkEntryBalance(result, report)
	checkAccountHierarchy(result, report)
	checkReferentialIntegrity(result, report)
	checkBalanceContinuity(result, report)

	report.Finalize()
	return report
}

// Input is the slice of parsed ledger data the validator reads.
type Input struct {
	Accounts []entity.Account
	Balances []entity.Balance
	Entries  []entity.LedgerEntry
}

// NewInput builds the validator input from parsed ledger data.
func NewInput(accounts []entity.Account, balances []entity.Balance, entries []entity.LedgerEntry) *Input {
	return &Input{Accounts: accounts, Balances: balances, Entries: entries}
}

// checkEntryBalance: per entry, |sum(debits) - sum(credits)| must be within
// Epsilon.
func checkEntryBalance(in *Input, report *entity.ValidationReport) {
	report.Summary.TotalChecks++

	var unbalanced []UnbalancedEntry
	for _, entry := range in.Entries {
		var debit, credit float64
		for _, item := range entry.Items {
			if item.DebitCredit == "D" {
				debit += item.Amount
			} else {
				credit += item.Amount
			}
		}
		diff := math.Abs(debit - credit)
		if diff > Epsilon {
			unbalanced = append(unbalanced, UnbalancedEntry{
				EntryNumber: entry.Number,
				EntryDate:   entry.Date,
				TotalDebit:  debit,
				TotalCredit: credit,
				Difference:  diff,
			})
		}
	}

	if len(unbalanced) > 0 {
		report.AddError(entity.ValidationIssue{
			Code:    CodeUnbalancedEntries,
			Message: fmt.Sprintf("%d entries with debit != credit", len(unbalanced)),
			Details: capDetails(unbalanced),
		})
		return
	}
	report.Summary.Passed++
}

// checkAccountHierarchy: a synthetic account without children is plausible
// but suspicious, so it is a warning rather than an error.
func checkAccountHierarchy(in *Input, report *entity.ValidationReport) {
	report.Summary.TotalChecks++

	hasChildren := make(map[string]bool, len(in.Accounts))
	for _, acc := range in.Accounts {
		if acc.ParentCode != "" {
			hasChildren[acc.ParentCode] = true
		}
	}

	var orphans []entity.Account
	for _, acc := range in.Accounts {
		if acc.Type == "S" && !hasChildren[acc.Code] {
			orphans = append(orphans, acc)
		}
	}

	if len(orphans) > 0 {
		report.AddWarning(entity.ValidationIssue{
			Code:    CodeSyntheticWithoutChildren,
			Message: fmt.Sprintf("%d synthetic accounts without child accounts", len(orphans)),
			Details: capDetails(orphans),
		})
		return
	}
	report.Summary.Passed++
}

// checkReferentialIntegrity: every account code referenced by a line item
// must exist in the chart of accounts.
func checkReferentialIntegrity(in *Input, report *entity.ValidationReport) {
	report.Summary.TotalChecks++

	known := make(map[string]struct{}, len(in.Accounts))
	for _, acc := range in.Accounts {
		known[acc.Code] = struct{}{}
	}

	seen := map[string]struct{}{}
	var invalid []string
	for _, entry := range in.Entries {
		for _, item := range entry.Items {
			if _, ok := known[item.AccountCode]; ok {
				continue
			}
			if _, dup := seen[item.AccountCode]; dup {
				continue
			}
			seen[item.AccountCode] = struct{}{}
			invalid = append(invalid, item.AccountCode)
		}
	}

	if len(invalid) > 0 {
		report.AddError(entity.ValidationIssue{
			Code:    CodeInvalidAccountCodes,
			Message: fmt.Sprintf("%d account codes missing from the chart of accounts", len(invalid)),
			Details: invalid,
		})
		return
	}
	report.Summary.Passed++
}

// checkBalanceContinuity: final = initial + debits - credits per row,
// within Epsilon.
func checkBalanceContinuity(in *Input, report *entity.ValidationReport) {
	report.Summary.TotalChecks++

	var inconsistent []InconsistentBalance
	for _, bal := range in.Balances {
		calculated := bal.InitialBalance + bal.DebitTotal - bal.CreditTotal
		if math.Abs(bal.FinalBalance-calculated) > Epsilon {
			inconsistent = append(inconsistent, InconsistentBalance{
				AccountCode:     bal.AccountCode,
				PeriodDate:      bal.PeriodDate,
				InitialBalance:  bal.InitialBalance,
				DebitTotal:      bal.DebitTotal,
				CreditTotal:     bal.CreditTotal,
				FinalBalance:    bal.FinalBalance,
				CalculatedFinal: calculated,
			})
		}
	}

	if len(inconsistent) > 0 {
		report.AddError(entity.ValidationIssue{
			Code:    CodeInconsistentBalances,
			Message: fmt.Sprintf("%d balances with inconsistencies", len(inconsistent)),
			Details: capDetails(inconsistent),
		})
		return
	}
	report.Summary.Passed++
}

func capDetails[T any](items []T) []T {
	if len(items) > maxDetails {
		return items[:maxDetails]
	}
	return items
}
