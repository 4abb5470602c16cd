package llm

import (
	"fmt"

	"google.golang.org/genai"

	"indiistudio/internal/tools"
	"indiistudio/internal/types"
)

// toContents maps runtime history onto Gemini contents. A RoleTool message
// expands into the model turn that made the calls followed by one user turn
// holding every function response.
func toContents(history []types.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+2)
	for _, msg := range history {
		switch msg.Role {
		case types.RoleUser:
			out = append(out, genai.NewContentFromText(msg.Text, genai.RoleUser))
		case types.RoleModel:
			if msg.Text != "" {
				out = append(out, genai.NewContentFromText(msg.Text, genai.RoleModel))
			}
		case types.RoleTool:
			calls := make([]*genai.Part, 0, len(msg.ToolCalls)+1)
			if msg.Text != "" {
				calls = append(calls, genai.NewPartFromText(msg.Text))
			}
			responses := make([]*genai.Part, 0, len(msg.ToolCalls))
			for i, call := range msg.ToolCalls {
				calls = append(calls, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Args,
				}})
				result := types.ToolResult{Success: false, ErrorCode: types.CodeToolExecutionError, Error: "no result"}
				if i < len(msg.ToolResults) {
					result = msg.ToolResults[i]
				}
				responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       call.ID,
					Name:     call.Name,
					Response: result.AsResponse(),
				}})
			}
			out = append(out,
				genai.NewContentFromParts(calls, genai.RoleModel),
				genai.NewContentFromParts(responses, genai.RoleUser))
		}
	}
	return out
}

// toTools declares every tool as a Gemini function.
func toTools(defs []types.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toSchema(def.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toSchema(params any) *genai.Schema {
	var s tools.Schema
	switch p := params.(type) {
	case tools.Schema:
		s = p
	case *tools.Schema:
		if p == nil {
			return nil
		}
		s = *p
	default:
		return nil
	}
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(s.Properties)),
		Required:   append([]string(nil), s.Required...),
	}
	for _, name := range s.PropertyNames() {
		out.Properties[name] = toProperty(s.Properties[name])
	}
	out.PropertyOrdering = s.PropertyNames()
	return out
}

func toProperty(p tools.Property) *genai.Schema {
	out := &genai.Schema{
		Type:        schemaType(p.Type),
		Description: p.Description,
		Default:     p.Default,
		Minimum:     p.Minimum,
		Maximum:     p.Maximum,
	}
	if len(p.Enum) > 0 {
		out.Enum = append([]string(nil), p.Enum...)
		out.Format = "enum"
	}
	if p.ExclusiveMinimum && p.Minimum != nil {
		out.Description = appendNote(out.Description, fmt.Sprintf("must be greater than %g", *p.Minimum))
	}
	if p.ExclusiveMaximum && p.Maximum != nil {
		out.Description = appendNote(out.Description, fmt.Sprintf("must be less than %g", *p.Maximum))
	}
	if p.Items != nil {
		out.Items = toProperty(*p.Items)
	}
	return out
}

func appendNote(desc, note string) string {
	if desc == "" {
		return note
	}
	return desc + " (" + note + ")"
}

func schemaType(t string) genai.Type {
	switch t {
	case tools.TypeString:
		return genai.TypeString
	case tools.TypeNumber:
		return genai.TypeNumber
	case tools.TypeInteger:
		return genai.TypeInteger
	case tools.TypeBoolean:
		return genai.TypeBoolean
	case tools.TypeArray:
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

// fromResponse extracts text, calls and usage from the first candidate.
func fromResponse(resp *genai.GenerateContentResponse) types.ModelResponse {
	var out types.ModelResponse
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = types.TokenUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for i, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil || part.Thought:
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		case part.Text != "":
			out.Text += part.Text
		}
	}
	return out
}
