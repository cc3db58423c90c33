package provider

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/pi-agent/pi/pkg/types"
)

// Provider is a source of chat models for one API family.
type Provider interface {
	// ID returns the provider identifier used in settings and sessions.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// API returns the wire API name recorded on assistant messages.
	API() string

	// Models returns the catalog of models this provider serves.
	Models() []types.Model

	// ChatModel returns an Eino chat model for modelID configured for the
	// given thinking level.
	ChatModel(ctx context.Context, modelID string, level types.ThinkingLevel) (model.ToolCallingChatModel, error)
}

// ToolInfo is a tool definition offered to the model.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ConvertToEinoTools converts tool definitions to Eino format.
func ConvertToEinoTools(tools []ToolInfo) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		var params map[string]*schema.ParameterInfo
		if len(t.Parameters) > 0 {
			params = parseJSONSchemaToParams(t.Parameters)
		}

		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}

type jsonSchemaProperty struct {
	Type        any                            `json:"type"`
	Description string                         `json:"description"`
	Enum        []string                       `json:"enum"`
	Items       *jsonSchemaProperty            `json:"items"`
	Properties  map[string]*jsonSchemaProperty `json:"properties"`
	Required    []string                       `json:"required"`
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var root jsonSchemaProperty
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return nil
	}
	return convertProperties(root.Properties, root.Required)
}

func convertProperties(props map[string]*jsonSchemaProperty, required []string) map[string]*schema.ParameterInfo {
	if len(props) == 0 {
		return nil
	}
	requiredSet := make(map[string]bool, len(required))
	for _, r := range required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(props))
	for name, prop := range props {
		if prop == nil {
			continue
		}
		info := convertProperty(prop)
		info.Required = requiredSet[name]
		params[name] = info
	}
	return params
}

func convertProperty(prop *jsonSchemaProperty) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type: paramType(prop.Type),
		Desc: prop.Description,
		Enum: prop.Enum,
	}
	switch info.Type {
	case schema.Array:
		if prop.Items != nil {
			info.ElemInfo = convertProperty(prop.Items)
		}
	case schema.Object:
		info.SubParams = convertProperties(prop.Properties, prop.Required)
	}
	return info
}

// paramType maps a JSON Schema type to Eino. Union types such as
// ["string","null"] use their first non-null member.
func paramType(t any) schema.DataType {
	var name string
	switch v := t.(type) {
	case string:
		name = v
	case []any:
		for _, member := range v {
			if s, ok := member.(string); ok && s != "null" {
				name = s
				break
			}
		}
	}
	switch name {
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
	}
	return schema.String
}
