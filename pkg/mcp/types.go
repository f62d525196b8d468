package mcp

import "encoding/json"

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "sshgate"

	ToolSSH       = "ssh"
	ToolSSHStatus = "ssh-status"
	ToolSSHTest   = "ssh-test"

	MethodNotifyMessage = "notifications/message"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func textResult(text string, isError bool) ToolResult {
	return ToolResult{Content: []ToolContent{{Type: "text", Text: text}}, IsError: isError}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type callParams struct {
	Name      string        `json:"name"`
	Arguments toolArguments `json:"arguments"`
}

type toolArguments struct {
	Caller  string `json:"caller"`
	Command string `json:"command"`
}

type logMessage struct {
	Level string `json:"level"`
	Data  string `json:"data"`
}

func toolCatalog() []Tool {
	callerProp := map[string]any{
		"type":        "string",
		"description": "Identity of the requester, checked against the allow-list.",
	}
	return []Tool{
		{
			Name:        ToolSSH,
			Description: "Run a shell command on the configured remote host.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "Shell command to run remotely.",
					},
					"caller": callerProp,
				},
				"required": []string{"command"},
			},
		},
		{
			Name:        ToolSSHStatus,
			Description: "Show the configured remote host and session state.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"caller": callerProp},
			},
		},
		{
			Name:        ToolSSHTest,
			Description: "Check that the remote host is reachable by running a fixed probe.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"caller": callerProp},
			},
		},
	}
}
