package jsonrpc

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/cockroachdb/errors"
)

const (
	ERROR_SERVER           = -32000
	ERROR_NOT_FOUND        = -32001
	ERROR_PARSE            = -32700
	ERROR_INVALID_REQUEST  = -32600
	ERROR_METHOD_NOT_FOUND = -32601
	ERROR_INVALID_PARAMS   = -32602
	ERROR_INTERNAL         = -32603
)

const (
	JsonRpcVersion = "2.0"
)

type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	}
	return "unknown"
}

var (
	// ErrParse marks a body that is not JSON, or not shaped like a message or a batch.
	ErrParse = errors.New("parse error")
	// ErrInvalid marks well-formed JSON that breaks JSON-RPC 2.0 rules.
	ErrInvalid = errors.New("invalid message")
)

// Message is one decoded JSON-RPC message. Raw holds its exact bytes so it can be
// handed on without re-encoding.
type Message struct {
	Kind   Kind
	Method string
	Id     any
	Raw    json.RawMessage
}

// Payload is the content of one HTTP request body.
type Payload struct {
	Batch    bool
	Messages []Message
}

// HasRequests reports whether any message expects a reply.
func (p *Payload) HasRequests() bool {
	for _, m := range p.Messages {
		if m.Kind == KindRequest {
			return true
		}
	}
	return false
}

// Raw returns the raw bytes of every message in order.
func (p *Payload) Raw() []json.RawMessage {
	raw := make([]json.RawMessage, len(p.Messages))
	for i, m := range p.Messages {
		raw[i] = m.Raw
	}
	return raw
}

// Decode parses a body holding either one message or a non-empty batch.
// Failures are marked with ErrParse or ErrInvalid.
func Decode(body []byte) (*Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.Mark(errors.New("empty body"), ErrParse)
	}

	switch body[0] {
	case '{':
		msg, err := DecodeMessage(body)
		if err != nil {
			return nil, err
		}
		return &Payload{Messages: []Message{msg}}, nil
	case '[':
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode batch"), ErrParse)
		}
		if len(batch) == 0 {
			return nil, errors.Mark(errors.New("empty batch"), ErrInvalid)
		}
		payload := &Payload{Batch: true, Messages: make([]Message, 0, len(batch))}
		for i, raw := range batch {
			msg, err := DecodeMessage(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "batch item %d", i)
			}
			payload.Messages = append(payload.Messages, msg)
		}
		return payload, nil
	}
	return nil, errors.Mark(errors.New("body is neither an object nor an array"), ErrParse)
}

// DecodeMessage parses and validates a single message.
func DecodeMessage(raw []byte) (Message, error) {
	var rm RawMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		return Message{}, errors.Mark(errors.Wrap(err, "decode message"), ErrParse)
	}
	kind, err := rm.Validate()
	if err != nil {
		return Message{}, errors.Mark(err, ErrInvalid)
	}
	msg := Message{Kind: kind, Raw: json.RawMessage(raw)}
	if rm.Method != nil {
		msg.Method = *rm.Method
	}
	if rm.Id != nil {
		msg.Id = *rm.Id
	}
	return msg, nil
}

// RawMessage is the union of every JSON-RPC message shape.
type RawMessage struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      *any            `json:"id,omitempty"`
	Method  *string         `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (rm *RawMessage) Validate() (Kind, error) {
	if rm.JsonRpc != JsonRpcVersion {
		return 0, errors.New("invalid or missing JSON-RPC version")
	}
	hasId := rm.Id != nil
	hasResult := rm.Result != nil
	hasError := rm.Error != nil

	// string or integer number
	if hasId {
		switch v := (*rm.Id).(type) {
		case string:
		case float64:
			if _, frac := math.Modf(v); frac != 0 {
				return 0, errors.New("id must be a string or an integer number")
			}
		default:
			return 0, errors.New("id must be a string or an integer number")
		}
	}

	if rm.Method != nil {
		if *rm.Method == "" {
			return 0, errors.New("method is empty")
		}
		if hasResult || hasError {
			return 0, errors.New("both method and result or error are present")
		}
		if !hasId {
			return KindNotification, nil
		}
		return KindRequest, nil
	}

	switch {
	case !hasId:
		return 0, errors.New("id is missing")
	case !hasResult && !hasError:
		return 0, errors.New("both result or error are missing")
	case hasResult && hasError:
		return 0, errors.New("result and error are both present")
	case rm.Params != nil:
		return 0, errors.New("params are present in response")
	}
	return KindResponse, nil
}

type Request struct {
	JsonRpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Id      any             `json:"id,omitempty"`
}

// Notification is a server-to-client message that expects no reply.
type Notification struct {
	JsonRpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func NewNotification(method string, params any) *Notification {
	return &Notification{
		JsonRpc: JsonRpcVersion,
		Method:  method,
		Params:  params,
	}
}

type Response struct {
	JsonRpc string         `json:"jsonrpc"`
	Result  any            `json:"result,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Id      any            `json:"id"`
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func GetErrorResponse(errMsg string, code int, data any, id any) *Response {
	return &Response{
		JsonRpc: JsonRpcVersion,
		Error: &ErrorResponse{
			Code:    code,
			Message: errMsg,
			Data:    data,
		},
		Id: id,
	}
}

// ErrorCode maps a Decode failure to its JSON-RPC error code.
func ErrorCode(err error) int {
	if errors.Is(err, ErrInvalid) {
		return ERROR_INVALID_REQUEST
	}
	return ERROR_PARSE
}
