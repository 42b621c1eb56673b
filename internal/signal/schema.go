package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Decision 是深度模型被要求输出的结构化决策。
type Decision struct {
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

const decisionSchemaJSON = `{
	"type": "object",
	"required": ["signal", "rationale"],
	"properties": {
		"signal":     {"type": "string", "enum": ["BUY", "SELL", "HOLD"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 100},
		"rationale":  {"type": "string", "minLength": 1}
	}
}`

var decisionSchema = mustCompileSchema(decisionSchemaJSON)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("decision.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// ParseDecision 从模型输出中提取并校验结构化决策 JSON。
func ParseDecision(raw string) (*Decision, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("输出中没有 JSON 决策块")
	}
	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return nil, fmt.Errorf("决策 JSON 解析失败: %w", err)
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("决策 JSON 未通过校验: %w", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(obj), &d); err != nil {
		return nil, err
	}
	return &d, nil
}
