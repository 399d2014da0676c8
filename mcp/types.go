package mcp

// initializeRequest carries the parts of an initialize call the server reads
// itself. Everything else goes to the MCP method handlers.
type initializeRequest struct {
	Params struct {
		ProtocolVersion string        `json:"protocolVersion"`
		Capabilities    *capabilities `json:"capabilities"`
		ClientInfo      *clientInfo   `json:"clientInfo"`
	} `json:"params"`
}

type capabilities struct {
	Roots    *capRoots `json:"roots,omitempty"`
	Sampling *struct{} `json:"sampling,omitempty"`
}

type capRoots struct {
	ListChanged *bool `json:"listChanged,omitempty"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResponse struct {
	JsonRpc string            `json:"jsonrpc"`
	Result  *initializeResult `json:"result,omitempty"`
	Id      any               `json:"id"`
}

type initializeResult struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    *serverCapabilities `json:"capabilities"`
	ServerInfo      *serverInfo         `json:"serverInfo"`
	Instructions    string              `json:"instructions,omitempty"`
}

type serverCapabilities struct {
	Logging *struct{}  `json:"logging,omitempty"`
	Prompts *serverCap `json:"prompts,omitempty"`
	Tools   *serverCap `json:"tools,omitempty"`
}

type serverCap struct {
	ListChanged bool `json:"listChanged"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
