package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/rmoura-dev/docflow/internal/entity"
)

// ParseError records a line that could not be processed. Parsing continues
// past individual bad lines.
type ParseError struct {
	Line    int    `json:"line"`
	Record  string `json:"record"`
	Message string `json:"message"`
	Raw     string `json:"raw"`
}

// Stats summarizes a parse run.
type Stats struct {
	TotalLines       int `json:"totalLines"`
	ProcessedRecords int `json:"processedRecords"`
	Accounts         int `json:"accounts"`
	Balances         int `json:"balances"`
	Entries          int `json:"entries"`
	Items            int `json:"items"`
	SkippedRecords   int `json:"skippedRecords"`
	Errors           int `json:"errors"`
}

// Result is the full outcome of parsing one ledger export.
type Result struct {
	File     entity.LedgerFile
	Accounts []entity.Account
	Balances []entity.Balance
	Entries  []entity.LedgerEntry
	Errors   []ParseError
	Stats    Stats
}

// Account nature derived from the first digit of the account code.
var accountNatureByDigit = map[byte]string{
	'1': "ativo",
	'2': "passivo",
	'3': "patrimonio_liquido",
	'4': "receita",
	'5': "despesa",
	'6': "resultado",
}

// ParseFile parses a pipe-delimited ECD-style accounting export from disk.
// Ledger exports are encoded in Latin-1.
func ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	hash, err := fileHash(path)
	if err != nil {
		return nil, err
	}

	result, err := Parse(transform.NewReader(f, charmap.ISO8859_1.NewDecoder()))
	if err != nil {
		return nil, err
	}
	result.File.FileName = filepath.Base(path)
	result.File.FilePath = path
	result.File.FileHash = hash
	return result, nil
}

// Parse reads pipe-delimited records line by line. Record layout:
// |TYPE|FIELD1|FIELD2|...|; unknown record types are counted as skipped.
func Parse(r io.Reader) (*Result, error) {
	result := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentEntry *entity.LedgerEntry
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		result.Stats.TotalLines++

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitLine(line)
		if len(fields) < 2 {
			continue
		}
		recordType := fields[1]

		var err error
		switch recordType {
		case "0000":
			err = parseHeader(fields, result)
		case "C040", "I150":
			// book identification / balance period header: no row output
		case "C050":
			err = parseAccount(fields, result)
		case "C051":
			parseReferentialCode(fields, result)
		case "C052":
			parseCostCenter(fields, result)
		case "I155":
			err = parseBalance(fields, result)
		case "I200":
			currentEntry, err = parseEntry(fields, result)
		case "I250":
			if currentEntry != nil {
				err = parseItem(fields, result, currentEntry)
			}
		default:
			result.Stats.SkippedRecords++
		}

		if err != nil {
			result.Errors = append(result.Errors, ParseError{
				Line:    lineNumber,
				Record:  recordType,
				Message: err.Error(),
				Raw:     truncate(line, 200),
			})
			result.Stats.Errors++
			continue
		}
		result.Stats.ProcessedRecords++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	result.File.TotalRecords = result.Stats.TotalLines
	return result, nil
}

// splitLine strips the leading and trailing pipe and splits the rest.
// A leading empty element keeps field indexes aligned with the record
// layout documentation (fields[1] == record type).
func splitLine(line string) []string {
	clean := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(line), "|"), "|")
	return append([]string{""}, strings.Split(clean, "|")...)
}

// parseHeader handles record 0000 - file opening.
// |0000|LECD|DT_INI|DT_FIN|NOME|CNPJ|UF|IE|COD_MUN|...
func parseHeader(fields []string, result *Result) error {
	if len(fields) < 7 {
		return fmt.Errorf("header record too short: %d fields", len(fields)-1)
	}
	result.File.PeriodStart = parseDate(field(fields, 3))
	result.File.PeriodEnd = parseDate(field(fields, 4))
	result.File.CompanyName = cleanString(field(fields, 5))
	result.File.CompanyTaxID = digitsOnly(field(fields, 6))
	return nil
}

// parseAccount handles record C050 - chart of accounts.
// |C050|DT_ALT|COD_NAT|IND_CTA|NIVEL|COD_CTA|COD_CTA_SUP|CTA|
func parseAccount(fields []string, result *Result) error {
	if len(fields) < 9 {
		return fmt.Errorf("account record too short: %d fields", len(fields)-1)
	}
	code := field(fields, 6)
	level, _ := strconv.Atoi(field(fields, 5))
	if level == 0 {
		level = 1
	}
	accountType := "A"
	if field(fields, 4) == "S" {
		accountType = "S"
	}
	name := cleanString(field(fields, 8))
	if name == "" {
		name = "Sem nome"
	}

	var nature string
	if code != "" {
		nature = accountNatureByDigit[code[0]]
	}

	result.Accounts = append(result.Accounts, entity.Account{
		Code:       code,
		Name:       name,
		Type:       accountType,
		Level:      level,
		ParentCode: field(fields, 7),
		Nature:     nature,
	})
	result.Stats.Accounts++
	return nil
}

// parseReferentialCode handles record C051, attaching the referential
// chart code to the most recent account.
// |C051|COD_ENT_REF|COD_CCUS|COD_CTA_REF|
func parseReferentialCode(fields []string, result *Result) {
	if len(fields) < 3 || len(result.Accounts) == 0 {
		return
	}
	ref := field(fields, 4)
	if ref == "" {
		// short C051 rows omit the cost-center column
		ref = field(fields, 3)
	}
	if ref != "" {
		result.Accounts[len(result.Accounts)-1].ReferentialCode = ref
	}
}

// parseCostCenter handles record C052, attaching a cost center to the most
// recent account.
func parseCostCenter(fields []string, result *Result) {
	if len(fields) < 3 || len(result.Accounts) == 0 {
		return
	}
	result.Accounts[len(result.Accounts)-1].CostCenterCode = field(fields, 2)
}

// parseBalance handles record I155 - periodic balance detail.
// |I155|COD_CTA|COD_CCUS|VL_SLD_INI|IND_DC_INI|VL_DEB|VL_CRED|VL_SLD_FIN|IND_DC_FIN|
func parseBalance(fields []string, result *Result) error {
	if len(fields) < 9 {
		return fmt.Errorf("balance record too short: %d fields", len(fields)-1)
	}
	result.Balances = append(result.Balances, entity.Balance{
		AccountCode:    field(fields, 2),
		PeriodDate:     result.File.PeriodEnd,
		InitialBalance: signedAmount(parseDecimal(field(fields, 4)), field(fields, 5)),
		DebitTotal:     parseDecimal(field(fields, 6)),
		CreditTotal:    parseDecimal(field(fields, 7)),
		FinalBalance:   signedAmount(parseDecimal(field(fields, 8)), field(fields, 9)),
	})
	result.Stats.Balances++
	return nil
}

// parseEntry handles record I200 - journal entry.
// |I200|NUM_LCTO|DT_LCTO|VL_LCTO|IND_LCTO|
func parseEntry(fields []string, result *Result) (*entity.LedgerEntry, error) {
	if len(fields) < 5 {
		return nil, fmt.Errorf("entry record too short: %d fields", len(fields)-1)
	}
	entryType := field(fields, 5)
	if entryType == "" {
		entryType = "N"
	}
	result.Entries = append(result.Entries, entity.LedgerEntry{
		Number: field(fields, 2),
		Date:   parseDate(field(fields, 3)),
		Amount: parseDecimal(field(fields, 4)),
		Type:   entryType,
	})
	result.Stats.Entries++
	return &result.Entries[len(result.Entries)-1], nil
}

// parseItem handles record I250 - entry line items.
// |I250|COD_CTA|COD_CCUS|VL_DC|IND_DC|NUM_ARQ|COD_HIST_PAD|HIST|COD_PART|
func parseItem(fields []string, result *Result, entry *entity.LedgerEntry) error {
	if len(fields) < 5 {
		return fmt.Errorf("item record too short: %d fields", len(fields)-1)
	}
	dc := "C"
	if field(fields, 5) == "D" {
		dc = "D"
	}
	entry.Items = append(entry.Items, entity.LedgerItem{
		AccountCode:    field(fields, 2),
		Amount:         parseDecimal(field(fields, 4)),
		DebitCredit:    dc,
		Description:    cleanString(field(fields, 8)),
		CostCenterCode: field(fields, 3),
	})
	result.Stats.Items++
	return nil
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return strings.TrimSpace(fields[i])
	}
	return ""
}

// parseDate converts DDMMYYYY to YYYY-MM-DD, returning "" when malformed.
func parseDate(s string) string {
	if len(s) != 8 {
		return ""
	}
	if _, err := strconv.Atoi(s); err != nil {
		return ""
	}
	return s[4:8] + "-" + s[2:4] + "-" + s[0:2]
}

// parseDecimal reads a comma-decimal amount ("1.234,56" or "1234,56").
func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// signedAmount applies the D/C indicator: credit balances are negative.
func signedAmount(v float64, indicator string) float64 {
	if indicator == "C" {
		return -v
	}
	return v
}

func cleanString(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash ledger file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash ledger file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
