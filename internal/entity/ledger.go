package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/constants"
)

// LedgerFile is the header of an ingested accounting export.
type LedgerFile struct {
	ID             uuid.UUID                  `json:"id"`
	OrganizationID uuid.UUID                  `json:"organization_id"`
	UploadedBy     uuid.UUID                  `json:"uploaded_by"`
	FileName       string                     `json:"file_name"`
	FilePath       string                     `json:"file_path"`
	FileHash       string                     `json:"file_hash"`
	CompanyName    string                     `json:"company_name"`
	CompanyTaxID   string                     `json:"company_tax_id"`
	PeriodStart    string                     `json:"period_start"` // YYYY-MM-DD
	PeriodEnd      string                     `json:"period_end"`
	Status         constants.LedgerFileStatus `json:"status"`
	ErrorMessage   *string                    `json:"error_message,omitempty"`
	TotalRecords   int                        `json:"total_records"`
	UploadedAt     time.Time                  `json:"uploaded_at"`
}

// Account is one row of a ledger's chart of accounts.
// Type "S" marks synthetic (non-leaf) accounts, "A" analytic (leaf) ones.
type Account struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	Type            string `json:"type"` // S | A
	Level           int    `json:"level"`
	ParentCode      string `json:"parent_code,omitempty"`
	Nature          string `json:"nature,omitempty"`
	ReferentialCode string `json:"referential_code,omitempty"`
	CostCenterCode  string `json:"cost_center_code,omitempty"`
}

// Balance is one periodic balance row for an account.
type Balance struct {
	AccountCode    string  `json:"account_code"`
	PeriodDate     string  `json:"period_date"`
	InitialBalance float64 `json:"initial_balance"`
	DebitTotal     float64 `json:"debit_total"`
	CreditTotal    float64 `json:"credit_total"`
	FinalBalance   float64 `json:"final_balance"`
}

// LedgerEntry is a journal entry; its items must balance within epsilon.
type LedgerEntry struct {
	Number string       `json:"number"`
	Date   string       `json:"date"`
	Amount float64      `json:"amount"`
	Type   string       `json:"type"`
	Items  []LedgerItem `json:"items"`
}

// LedgerItem is one debit or credit line of an entry.
type LedgerItem struct {
	AccountCode    string  `json:"account_code"`
	Amount         float64 `json:"amount"`
	DebitCredit    string  `json:"debit_credit"` // D | C
	Description    string  `json:"description,omitempty"`
	CostCenterCode string  `json:"cost_center_code,omitempty"`
}
