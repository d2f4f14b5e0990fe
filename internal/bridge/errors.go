package bridge

import (
	"errors"

	"github.com/aegis-sign/keystone-bridge/pkg/apierrors"
)

// UninitializedMessage 是在 init 成功前请求数据类操作时返回的固定文本。
const UninitializedMessage = "Bridge not initialized. Please call init first."

// ErrUninitialized 表示 bridge 尚未完成初始化。
var ErrUninitialized = apierrors.New(apierrors.CodeUninitialized, UninitializedMessage)

// ErrRateLimited 表示入站请求超出速率限制。
var ErrRateLimited = apierrors.New(apierrors.CodeRateLimited, "bridge rate limited, retry later")

// errUnknownAction 表示 action 不在协议表内，此类请求不回复。
var errUnknownAction = errors.New("unknown bridge action")
