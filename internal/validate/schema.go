package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/rmoura-dev/docflow/internal/entity"
)

// Issue codes produced by the record validator.
const (
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	CodeInvalidFieldType     = "INVALID_FIELD_TYPE"
	CodeValueTooLow          = "VALUE_TOO_LOW"
	CodeValueTooHigh         = "VALUE_TOO_HIGH"
	CodeStringTooShort       = "STRING_TOO_SHORT"
	CodeStringTooLong        = "STRING_TOO_LONG"
	CodePatternMismatch      = "PATTERN_MISMATCH"
	CodeInvalidEnumValue     = "INVALID_ENUM_VALUE"
	CodeRequiredTogether     = "REQUIRED_TOGETHER"
	CodeMutuallyExclusive    = "MUTUALLY_EXCLUSIVE"
	CodeUnknownField         = "UNKNOWN_FIELD"
)

// Accepted layouts for date fields.
var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339}

// Record validates extracted data against a template's field definitions
// and cross-field rules. Unknown keys are warnings, never errors, so a
// template change does not retroactively fail older extractions.
func Record(tmpl *entity.Template, data map[string]any) *entity.ValidationReport {
	report := entity.NewValidationReport()

	defined := make(map[string]struct{}, len(tmpl.Fields))
	for _, def := range tmpl.Fields {
		defined[def.Name] = struct{}{}
		checkField(def, data, report)
	}

	for key := range data {
		if _, ok := defined[key]; !ok {
			report.Summary.TotalChecks++
			report.AddWarning(entity.ValidationIssue{
				Code:    CodeUnknownField,
				Field:   key,
				Message: fmt.Sprintf("field %q is not defined by template %q", key, tmpl.Name),
			})
		}
	}

	for _, rule := range tmpl.CrossRules {
		checkCrossRule(rule, data, report)
	}

	report.Finalize()
	return report
}

func checkField(def entity.FieldDef, data map[string]any, report *entity.ValidationReport) {
	report.Summary.TotalChecks++

	value, present := data[def.Name]
	if !present || value == nil || value == "" {
		if def.Required {
			report.AddError(entity.ValidationIssue{
				Code:    CodeRequiredFieldMissing,
				Field:   def.Name,
				Message: fmt.Sprintf("required field %q is missing", def.Name),
			})
			return
		}
		report.Summary.Passed++
		return
	}

	before := len(report.Errors)
	switch def.Type {
	case entity.FieldText:
		checkText(def, value, report)
	case entity.FieldNumber:
		checkNumber(def, value, report)
	case entity.FieldDate:
		checkDate(def, value, report)
	case entity.FieldBoolean:
		checkBoolean(def, value, report)
	case entity.FieldEnum:
		checkEnum(def, value, report)
	case entity.FieldJSON:
		// any decoded JSON value is acceptable
	}
	if len(report.Errors) == before {
		report.Summary.Passed++
	}
}

func checkText(def entity.FieldDef, value any, report *entity.ValidationReport) {
	s, ok := value.(string)
	if !ok {
		addTypeError(def, value, report)
		return
	}
	rules := def.Rules
	if rules == nil {
		return
	}
	if rules.MinLength > 0 && len(s) < rules.MinLength {
		report.AddError(entity.ValidationIssue{
			Code:    CodeStringTooShort,
			Field:   def.Name,
			Message: fmt.Sprintf("field %q has %d characters, minimum is %d", def.Name, len(s), rules.MinLength),
		})
	}
	if rules.MaxLength > 0 && len(s) > rules.MaxLength {
		report.AddError(entity.ValidationIssue{
			Code:    CodeStringTooLong,
			Field:   def.Name,
			Message: fmt.Sprintf("field %q has %d characters, maximum is %d", def.Name, len(s), rules.MaxLength),
		})
	}
	if rules.Pattern != "" {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil {
			report.AddWarning(entity.ValidationIssue{
				Code:    CodePatternMismatch,
				Field:   def.Name,
				Message: fmt.Sprintf("field %q has an invalid pattern rule: %v", def.Name, err),
			})
		} else if !re.MatchString(s) {
			report.AddError(entity.ValidationIssue{
				Code:    CodePatternMismatch,
				Field:   def.Name,
				Message: fmt.Sprintf("field %q does not match pattern %s", def.Name, rules.Pattern),
			})
		}
	}
}

func checkNumber(def entity.FieldDef, value any, report *entity.ValidationReport) {
	num, ok := toFloat(value)
	if !ok {
		addTypeError(def, value, report)
		return
	}
	rules := def.Rules
	if rules == nil {
		return
	}
	if rules.Min != nil && num < *rules.Min {
		report.AddError(entity.ValidationIssue{
			Code:    CodeValueTooLow,
			Field:   def.Name,
			Message: fmt.Sprintf("field %q is %v, minimum is %v", def.Name, num, *rules.Min),
		})
	}
	if rules.Max != nil && num > *rules.Max {
		report.AddError(entity.ValidationIssue{
			Code:    CodeValueTooHigh,
			Field:   def.Name,
			Message: fmt.Sprintf("field %q is %v, maximum is %v", def.Name, num, *rules.Max),
		})
	}
}

func checkDate(def entity.FieldDef, value any, report *entity.ValidationReport) {
	s, ok := value.(string)
	if !ok {
		addTypeError(def, value, report)
		return
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return
		}
	}
	report.AddError(entity.ValidationIssue{
		Code:    CodeInvalidFieldType,
		Field:   def.Name,
		Message: fmt.Sprintf("field %q is not a recognized date: %q", def.Name, s),
	})
}

func checkBoolean(def entity.FieldDef, value any, report *entity.ValidationReport) {
	if _, ok := value.(bool); !ok {
		addTypeError(def, value, report)
	}
}

func checkEnum(def entity.FieldDef, value any, report *entity.ValidationReport) {
	s, ok := value.(string)
	if !ok {
		addTypeError(def, value, report)
		return
	}
	if def.Rules == nil || len(def.Rules.Enum) == 0 {
		return
	}
	if !slices.Contains(def.Rules.Enum, s) {
		report.AddError(entity.ValidationIssue{
			Code:    CodeInvalidEnumValue,
			Field:   def.Name,
			Message: fmt.Sprintf("field %q value %q is not one of %v", def.Name, s, def.Rules.Enum),
		})
	}
}

func checkCrossRule(rule entity.CrossRule, data map[string]any, report *entity.ValidationReport) {
	report.Summary.TotalChecks++

	var present []string
	for _, name := range rule.Fields {
		if v, ok := data[name]; ok && v != nil && v != "" {
			present = append(present, name)
		}
	}

	switch rule.Type {
	case entity.RequiredTogether:
		if len(present) > 0 && len(present) < len(rule.Fields) {
			report.AddError(entity.ValidationIssue{
				Code:    CodeRequiredTogether,
				Message: crossMessage(rule, fmt.Sprintf("fields %v must all be present when any is set, got %v", rule.Fields, present)),
				Details: rule.Fields,
			})
			return
		}
	case entity.MutuallyExclusive:
		if len(present) > 1 {
			report.AddError(entity.ValidationIssue{
				Code:    CodeMutuallyExclusive,
				Message: crossMessage(rule, fmt.Sprintf("fields %v are mutually exclusive, got %v", rule.Fields, present)),
				Details: present,
			})
			return
		}
	}
	report.Summary.Passed++
}

func crossMessage(rule entity.CrossRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}

func addTypeError(def entity.FieldDef, value any, report *entity.ValidationReport) {
	report.AddError(entity.ValidationIssue{
		Code:    CodeInvalidFieldType,
		Field:   def.Name,
		Message: fmt.Sprintf("field %q expected %s, got %T", def.Name, def.Type, value),
	})
}

// toFloat accepts the numeric shapes JSON decoding produces.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
