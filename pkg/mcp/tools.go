package mcp

// GetToolDefinitions returns all available tool definitions
func GetToolDefinitions() []Tool {
	return []Tool{
		deleteIssueTool(),
		saveElementTool(),
		getElementHTMLTool(),
		verifyCertificateTool(),
		listIssuesTool(),
	}
}

func tokenProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Bearer token of the acting user",
	}
}

func idProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     1,
	}
}

func deleteIssueTool() Tool {
	return Tool{
		Name:        "delete_issue",
		Description: "Revoke an issued certificate. Requires the issue capability on its template.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"token":    tokenProperty(),
				"issue_id": idProperty("The issue to revoke"),
			},
			"required": []string{"token", "issue_id"},
		},
	}
}

func saveElementTool() Tool {
	return Tool{
		Name:        "save_element",
		Description: "Save the edit form of a template element. The form mixes the shared fields (name, posx, posy) with the fields of the element type.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"token":      tokenProperty(),
				"element_id": idProperty("The element to save"),
				"form": map[string]interface{}{
					"type":                 "object",
					"description":          "Submitted form values keyed by field name",
					"additionalProperties": true,
				},
			},
			"required": []string{"token", "element_id", "form"},
		},
	}
}

func getElementHTMLTool() Tool {
	return Tool{
		Name:        "get_element_html",
		Description: "Render the editor preview markup of a template element",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"token":      tokenProperty(),
				"element_id": idProperty("The element to render"),
			},
			"required": []string{"token", "element_id"},
		},
	}
}

func verifyCertificateTool() Tool {
	return Tool{
		Name:        "verify_certificate",
		Description: "Check a certificate verification code",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"token": tokenProperty(),
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The verification code printed on the certificate",
				},
			},
			"required": []string{"token", "code"},
		},
	}
}

func listIssuesTool() Tool {
	return Tool{
		Name:        "list_issues",
		Description: "List issued certificates of a template or of a user. Exactly one of template_id and user_id must be given.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"token":       tokenProperty(),
				"template_id": idProperty("List the issues of this template"),
				"user_id":     idProperty("List the issues held by this user"),
				"sort": map[string]interface{}{
					"type":        "string",
					"description": "Column and direction, e.g. \"created_at DESC\"",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of issues to return",
					"default":     50,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Offset for pagination",
					"default":     0,
				},
			},
			"required": []string{"token"},
		},
	}
}
