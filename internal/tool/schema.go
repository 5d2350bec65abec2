package tool

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"
)

// ToolInfo builds the eino description of a tool from its JSON Schema.
func ToolInfo(name, description string, params json.RawMessage) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        name,
		Desc:        description,
		ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(params)),
	}
}

type jsonSchemaProp struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description"`
	Enum        []any                     `json:"enum"`
	Items       *jsonSchemaProp           `json:"items"`
	Properties  map[string]jsonSchemaProp `json:"properties"`
	Required    []string                  `json:"required"`
}

// parseJSONSchemaToParams converts JSON Schema to eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	if len(schemaJSON) == 0 {
		return map[string]*schema.ParameterInfo{}
	}
	var root jsonSchemaProp
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return map[string]*schema.ParameterInfo{}
	}
	return convertProperties(root.Properties, root.Required)
}

func convertProperties(props map[string]jsonSchemaProp, required []string) map[string]*schema.ParameterInfo {
	requiredSet := make(map[string]bool, len(required))
	for _, r := range required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(props))
	for name, prop := range props {
		info := convertProp(prop)
		info.Required = requiredSet[name]
		params[name] = info
	}
	return params
}

func convertProp(prop jsonSchemaProp) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type: dataType(prop.Type),
		Desc: prop.Description,
	}
	for _, e := range prop.Enum {
		if s, ok := e.(string); ok {
			info.Enum = append(info.Enum, s)
		}
	}
	switch info.Type {
	case schema.Array:
		if prop.Items != nil {
			info.ElemInfo = convertProp(*prop.Items)
		}
	case schema.Object:
		if len(prop.Properties) > 0 {
			info.SubParams = convertProperties(prop.Properties, prop.Required)
		}
	}
	return info
}

func dataType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
