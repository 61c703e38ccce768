package prompt

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Variant selects the response field set.
type Variant string

const (
	// VariantFull asks for all ten fields, reasoning included.
	VariantFull Variant = "full"
	// VariantCompact drops reasoning.
	VariantCompact Variant = "compact"
)

// ParseVariant defaults to VariantFull on empty input.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", VariantFull:
		return VariantFull, nil
	case VariantCompact:
		return VariantCompact, nil
	default:
		return "", fmt.Errorf("unknown schema variant: %s (allowed: full, compact)", s)
	}
}

// SchemaName is sent as the json_schema name.
const SchemaName = "defect_analysis"

type field struct {
	name        string
	typ         jsonschema.DataType
	description string
	example     string
}

var fields = []field{
	{"defect", jsonschema.String, "Name of the defect", "Short name of defect"},
	{"code", jsonschema.String, "Code from Appendix A of СП 1.04.02-2022", "Code from Appx A of СП"},
	{"description", jsonschema.String, "Visual description", "Technical description based on visual evidence"},
	{"normativeReference", jsonschema.String, "Reference to clauses in СН or СП", "Exact clause from norms"},
	{"kts", jsonschema.String, "Technical Condition Category (I-V)", "Category (I-V)"},
	{"measures", jsonschema.String, "Recommended measures per norms", "Required actions per norms (e.g., urgent propping, repair)"},
	{"priority", jsonschema.String, "Urgency of repair", "Urgency (Immediate/Planned)"},
	{"repairMethods", jsonschema.String, "Suggested repair methods", "Technical method for elimination"},
	{"confidence", jsonschema.Number, "Confidence score 0-100", "Number 0-100"},
	{"reasoning", jsonschema.String, "Explanation of the classification", "Brief logic for the decision"},
}

func (v Variant) fields() []field {
	if v == VariantCompact {
		return fields[:len(fields)-1]
	}
	return fields
}

// RequiredFields lists the field names the variant declares required, in schema order.
func (v Variant) RequiredFields() []string {
	fs := v.fields()
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.name)
	}
	return out
}

// ResponseSchema returns the strict JSON object schema for the variant.
func ResponseSchema(v Variant) jsonschema.Definition {
	props := make(map[string]jsonschema.Definition, len(fields))
	for _, f := range v.fields() {
		props[f.name] = jsonschema.Definition{Type: f.typ, Description: f.description}
	}
	return jsonschema.Definition{
		Type:                 jsonschema.Object,
		Properties:           props,
		Required:             v.RequiredFields(),
		AdditionalProperties: false,
	}
}

// AcceptSchema is the schema a returned result is checked against. It matches
// ResponseSchema except that reasoning is optional in every variant.
func AcceptSchema(v Variant) jsonschema.Definition {
	schema := ResponseSchema(v)
	required := make([]string, 0, len(schema.Required))
	for _, name := range schema.Required {
		if name != "reasoning" {
			required = append(required, name)
		}
	}
	schema.Required = required
	return schema
}

// GetSystemPrompt provides the fixed inspection instruction and the output structure.
func GetSystemPrompt(v Variant) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\nOUTPUT JSON STRUCTURE:\n{\n")
	fs := v.fields()
	for i, f := range fs {
		sep := ","
		if i == len(fs)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "  %q: %q%s\n", f.name, f.example, sep)
	}
	b.WriteString("}\n")
	return b.String()
}

// GetUserPrompt builds the text part sent after the images.
func GetUserPrompt(comments string) string {
	comments = strings.TrimSpace(comments)
	if comments == "" {
		comments = "None"
	}
	return fmt.Sprintf(`Analyze the attached images of building structures.
User Comments: %s

Perform a technical expertise based strictly on СН 1.04.01-2020 and СП 1.04.02-2022.
Identify the defect, assign the code from Appendix A of СП, determine the KTS based on СН, and recommend measures.`, comments)
}

const systemPreamble = `You are a specialized Senior Structural Engineer acting as a Technical Expert for building analysis in the Republic of Belarus.
Your task is to analyze images of building structures and identify defects strictly according to two specific normative documents:
1. СН 1.04.01-2020 "Техническое состояние зданий и сооружений" (Technical condition of buildings and structures)
2. СП 1.04.02-2022 "Общие положения по обследованию строительных конструкций зданий и сооружений" (General provisions for the inspection of building structures)

MANDATORY RULES:
1. Use ONLY the provided norms. Do not use external internet data or general construction knowledge if it contradicts these docs.
2. Analyze all images as a single set. Provide one consolidated conclusion for the primary element shown.
3. Defect Codes: Determine codes ONLY from Appendix A (Приложение А) of СП 1.04.02-2022. Format: "СП 1.04.02-2022, Приложение А, п. A.X".
4. Technical Condition Category (KTS): Determine KTS (I, II, III, IV, V) using criteria from СН 1.04.01-2020. Cite the specific clause (e.g., "СН 1.04.01-2020, п. 12.4.6").
   Put the category alone on the first line of "kts"; justification may follow on the next lines.
   - I: Good (Исправное)
   - II: Satisfactory (Работоспособное)
   - III: Limited Workable (Ограниченно работоспособное)
   - IV: Unsatisfactory/Pre-emergency (Неработоспособное)
   - V: Emergency (Предельное)
5. Structure your response strictly as a JSON object.
6. Language: Russian (as the norms are in Russian).
7. If data is insufficient, state "Недостаточно данных" but provide the most probable estimation based on visible signs.
`
