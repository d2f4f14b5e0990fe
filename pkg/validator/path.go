package validator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const hardenedOffset = 1 << 31

var (
	errEmptyPath = errors.New("derivation path is required")
	errEmptyHex  = errors.New("hex payload is required")
)

// ValidatePath 校验 BIP-32 派生路径，如 m/44'/60'/0'/0/0。
// 硬化分量允许使用 ' 或 h 后缀。
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errEmptyPath
	}
	parts := strings.Split(path, "/")
	if parts[0] != "m" && parts[0] != "M" {
		return fmt.Errorf("derivation path %q must start with m", path)
	}
	for _, part := range parts[1:] {
		index := strings.TrimRight(part, "'hH")
		if index == "" || len(part)-len(index) > 1 {
			return fmt.Errorf("invalid derivation path component %q", part)
		}
		v, err := strconv.ParseUint(index, 10, 32)
		if err != nil || v >= hardenedOffset {
			return fmt.Errorf("invalid derivation path component %q", part)
		}
	}
	return nil
}

// ValidatePaths 逐个校验批量派生路径，要求至少一条。
func ValidatePaths(paths []string) error {
	if len(paths) == 0 {
		return errors.New("at least one derivation path is required")
	}
	for i, p := range paths {
		if err := ValidatePath(p); err != nil {
			return fmt.Errorf("paths[%d]: %w", i, err)
		}
	}
	return nil
}

// DecodeHex 解码可选 0x 前缀的十六进制字符串。
func DecodeHex(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if trimmed == "" {
		return nil, errEmptyHex
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return decoded, nil
}

// ValidateHex 确保 raw 是非空的十六进制串。
func ValidateHex(raw string) error {
	_, err := DecodeHex(raw)
	return err
}
