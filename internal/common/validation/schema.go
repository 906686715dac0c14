package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// Field messages shown next to the form inputs.
const (
	MsgGoalRequired      = "请输入分析目标"
	MsgNameRequired      = "请输入图标名称"
	MsgChartTypeRequired = "请输入图表类型"
	MsgNameTooLong       = "图标名称过长"
	MsgChartTypeUnknown  = "不支持的图表类型"
)

// MaxChartNameLength bounds the chart name in characters.
const MaxChartNameLength = 100

// FormSchema is the JSON schema for the analysis form fields.
var FormSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"goal", "name", "chartType"},
	"properties": map[string]interface{}{
		"goal": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
			"pattern":   `\S`,
		},
		"name": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
			"maxLength": MaxChartNameLength,
			"pattern":   `\S`,
		},
		"chartType": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"折线图", "柱状图", "堆叠图", "饼图", "雷达图"},
		},
	},
}

// ChartOptionSchema is the minimal shape ECharts needs from an option.
var ChartOptionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"series": map[string]interface{}{"type": []interface{}{"array", "object"}},
		"title":  map[string]interface{}{"type": []interface{}{"array", "object"}},
	},
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validate checks data against a Go-value schema with gojsonschema.
func Validate(schema map[string]interface{}, data interface{}) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}

	vr := &ValidationResult{Valid: result.Valid()}
	for _, re := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:   fieldOf(re),
			Message: re.Description(),
			Code:    re.Type(),
		})
	}
	return vr, nil
}

// ValidateForm validates the three structured form fields and rewrites
// schema errors into the per-field messages the form displays. At most one
// error is kept per field.
func ValidateForm(fields map[string]string) (*ValidationResult, error) {
	data := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if v == "" {
			// an empty input counts as missing, like an unfilled form item
			continue
		}
		data[k] = v
	}

	vr, err := Validate(FormSchema, data)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []ValidationError
	for _, e := range vr.Errors {
		if seen[e.Field] {
			continue
		}
		seen[e.Field] = true
		e.Message = formMessage(e, fields[e.Field])
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return fieldOrder(out[i].Field) < fieldOrder(out[j].Field) })

	return &ValidationResult{Valid: len(out) == 0, Errors: out}, nil
}

// ValidateChartOption reports whether a parsed chart option is usable.
func ValidateChartOption(option map[string]interface{}) error {
	vr, err := Validate(ChartOptionSchema, option)
	if err != nil {
		return err
	}
	if !vr.Valid {
		return fmt.Errorf("invalid chart option: %s", strings.Join(vr.GetErrorMessages(), "; "))
	}
	return nil
}

func (vr *ValidationResult) GetErrorMessages() []string {
	var messages []string
	for _, err := range vr.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// FieldMessages maps each failing field to its message.
func (vr *ValidationResult) FieldMessages() map[string]string {
	out := make(map[string]string, len(vr.Errors))
	for _, err := range vr.Errors {
		out[err.Field] = err.Message
	}
	return out
}

func fieldOf(re gojsonschema.ResultError) string {
	if re.Type() == "required" {
		if p, ok := re.Details()["property"].(string); ok {
			return p
		}
	}
	return re.Field()
}

func formMessage(e ValidationError, value string) string {
	switch e.Field {
	case "goal":
		return MsgGoalRequired
	case "name":
		if utf8.RuneCountInString(value) > MaxChartNameLength {
			return MsgNameTooLong
		}
		return MsgNameRequired
	case "chartType":
		if value != "" {
			return MsgChartTypeUnknown
		}
		return MsgChartTypeRequired
	default:
		return e.Message
	}
}

func fieldOrder(field string) int {
	switch field {
	case "goal":
		return 0
	case "name":
		return 1
	case "chartType":
		return 2
	default:
		return 3
	}
}
