package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/aegis-sign/keystone-bridge/pkg/apierrors"
	"github.com/aegis-sign/keystone-bridge/pkg/validator"
)

// DefaultTarget 是宿主页面投递给 bridge 的固定目标标识。
const DefaultTarget = "KEYSTONE-IFRAME"

// ReplySuffix 拼接在请求 action 之后构成回复 action。
const ReplySuffix = "-reply"

// Action 是 bridge 识别的请求类型。
type Action string

const (
	ActionIframeReady         Action = "keystone-iframe-ready"
	ActionInit                Action = "keystone-bridge-init"
	ActionGetKeys             Action = "keystone-bridge-get-keys"
	ActionSignTransaction     Action = "keystone-bridge-sign-transaction"
	ActionSignPersonalMessage Action = "keystone-bridge-sign-personal-message"
	ActionSignEIP712Message   Action = "keystone-bridge-sign-eip712-message"
)

// Actions 按协议顺序列出全部已识别的 action。
func Actions() []Action {
	return []Action{
		ActionIframeReady,
		ActionInit,
		ActionGetKeys,
		ActionSignTransaction,
		ActionSignPersonalMessage,
		ActionSignEIP712Message,
	}
}

// ReplyAction 返回 action 对应的回复 action。
func ReplyAction(action string) string {
	return action + ReplySuffix
}

// Envelope 是通过 target 过滤后的入站请求。
// MessageID 保留原始 JSON token，回复时逐字节回显。
type Envelope struct {
	Target    string          `json:"target"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	MessageID json.RawMessage `json:"messageId,omitempty"`
}

// Reply 是发送给宿主的回复消息。
type Reply struct {
	Action    string          `json:"action"`
	Success   bool            `json:"success"`
	MessageID json.RawMessage `json:"messageId,omitempty"`
	Payload   any             `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SuccessReply 构造成功回复，payload 为 nil 时省略。
func SuccessReply(replyAction string, messageID json.RawMessage, payload any) Reply {
	return Reply{Action: replyAction, Success: true, MessageID: messageID, Payload: payload}
}

// ErrorReply 构造失败回复，error 字段为 err 的消息文本。
func ErrorReply(replyAction string, messageID json.RawMessage, err error) Reply {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Reply{Action: replyAction, Success: false, MessageID: messageID, Error: msg}
}

// GetKeysParams 是 keystone-bridge-get-keys 的参数。
type GetKeysParams struct {
	Paths []string `json:"paths"`
}

// SignTransactionParams 是 keystone-bridge-sign-transaction 的参数。
type SignTransactionParams struct {
	Path       string `json:"path"`
	RawTx      string `json:"rawTx"`
	IsLegacyTx bool   `json:"isLegacyTx"`
}

// SignPersonalMessageParams 是 keystone-bridge-sign-personal-message 的参数。
type SignPersonalMessageParams struct {
	Path    string  `json:"path"`
	Message *string `json:"message"`
}

// SignEIP712MessageParams 是 keystone-bridge-sign-eip712-message 的参数。
type SignEIP712MessageParams struct {
	Path        string          `json:"path"`
	JSONMessage json.RawMessage `json:"jsonMessage"`
}

func (p GetKeysParams) validate() error {
	return validator.ValidatePaths(p.Paths)
}

func (p SignTransactionParams) validate() error {
	if err := validator.ValidatePath(p.Path); err != nil {
		return err
	}
	if err := validator.ValidateHex(p.RawTx); err != nil {
		return fmt.Errorf("rawTx: %w", err)
	}
	return nil
}

func (p SignPersonalMessageParams) validate() error {
	if err := validator.ValidatePath(p.Path); err != nil {
		return err
	}
	if p.Message == nil {
		return fmt.Errorf("message is required")
	}
	return nil
}

func (p SignEIP712MessageParams) validate() error {
	if err := validator.ValidatePath(p.Path); err != nil {
		return err
	}
	if len(p.JSONMessage) == 0 || string(p.JSONMessage) == "null" {
		return fmt.Errorf("jsonMessage is required")
	}
	return nil
}

type validatable interface {
	validate() error
}

// decodeParams 将 raw 解码到 dst 并校验，失败统一归为 MALFORMED_REQUEST。
func decodeParams[T validatable](action Action, raw json.RawMessage) (T, error) {
	var params T
	if len(raw) == 0 || string(raw) == "null" {
		return params, apierrors.New(apierrors.CodeMalformedRequest, fmt.Sprintf("%s: params are required", action))
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, apierrors.New(apierrors.CodeMalformedRequest, fmt.Sprintf("%s: invalid params: %v", action, err))
	}
	if err := params.validate(); err != nil {
		return params, apierrors.New(apierrors.CodeMalformedRequest, fmt.Sprintf("%s: %v", action, err))
	}
	return params, nil
}
