package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Server-defined codes (-32000 to -32099 are reserved for implementations).
const (
	// ErrorCodeUpstreamFailure indicates a collaborator operation failed.
	ErrorCodeUpstreamFailure ErrorCode = -32000
	// ErrorCodeCallTimeout indicates a server-issued call timed out waiting for
	// its reply.
	ErrorCodeCallTimeout ErrorCode = -32001
	// ErrorCodeChannelClosed indicates the session channel closed while a call
	// was in flight.
	ErrorCodeChannelClosed ErrorCode = -32002
)
