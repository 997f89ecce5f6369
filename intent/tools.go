package intent

// Tool 是 Responses API 的函数工具定义。
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict"`
}

// 会议助手支持的命令。
const (
	ToolCareUnitAction   = "handle_care_unit_action"
	ToolUpdateGHSScore   = "update_ghs_score"
	ToolPatientDocSearch = "ai_patient_document_search"
	ToolStartScrum       = "start_scrum"
	ToolCloseUIElement   = "close_ui_element"
	ToolApproveAction    = "approve_action"
)

// providerProps 每个工具都带上执行者身份。
func providerProps(verb string) map[string]any {
	return map[string]any{
		"provider_id": map[string]any{
			"type":        "number",
			"description": "Provider UserNum " + verb,
		},
		"provider_name": map[string]any{
			"type":        "string",
			"description": "Provider name",
		},
	}
}

func functionTool(name, description, verb string, extra map[string]any, required ...string) Tool {
	props := providerProps(verb)
	for k, v := range extra {
		props[k] = v
	}
	return Tool{
		Type:        "function",
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             append([]string{"provider_id", "provider_name"}, required...),
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// DefaultTools 返回全部命令工具定义，每次调用返回新切片。
func DefaultTools() []Tool {
	return []Tool{
		functionTool(ToolCareUnitAction,
			"Add, update, or delete a CPT-based care action. Select appropriate CPT code from the provided list based on the service mentioned.",
			"performing the action",
			map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"enum":        []string{"add", "update", "delete"},
					"description": "Type of operation",
				},
				"service_code": str("CPT/service code (e.g., '99213')"),
				"service_name": str("Full service name"),
			},
			"operation", "service_code", "service_name"),
		functionTool(ToolUpdateGHSScore,
			"Update a Global Health Score category. Match the spoken description to the appropriate category and code from the provided GHS scores.",
			"making the update",
			map[string]any{
				"category": map[string]any{
					"type":        "string",
					"enum":        []string{"body", "interactivity", "mind", "motivation", "response", "social", "substance"},
					"description": "GHS category to update",
				},
				"code": map[string]any{
					"type":        "number",
					"enum":        []int{1, 2, 3},
					"description": "Score code (1=Good/Low, 2=Moderate/Medium, 3=Poor/High)",
				},
				"label": str("Full descriptive label for the score"),
			},
			"category", "code", "label"),
		functionTool(ToolPatientDocSearch,
			"Find and retrieve a patient document. Match the request to available documents by type (xray, lab_report) and content.",
			"making the search",
			map[string]any{
				"doc_id": str("Document ID from the available documents"),
				"title":  str("Document title"),
				"url":    str("Document URL"),
			},
			"doc_id", "title", "url"),
		functionTool(ToolStartScrum,
			"Start the scrum meeting. This will trigger the UI to begin the scrum session.",
			"starting the scrum",
			nil),
		functionTool(ToolCloseUIElement,
			"Close an open UI element like a report, document, or modal when user says 'close the report', 'close xray', etc.",
			"closing the element",
			map[string]any{
				"element_type": str("Type or name of the UI element to close (e.g., report, xray, lab result, modal, any open UI element)"),
			},
			"element_type"),
		functionTool(ToolApproveAction,
			"Approve a pending action or decision.",
			"approving the action",
			map[string]any{
				"action_description": str("Description of what is being approved"),
			},
			"action_description"),
	}
}
