// Package util 提供通用工具函数
package util

import (
	"unicode/utf8"

	"github.com/google/uuid"
)

// GenerateUUID 生成 UUID
// 使用 Google 的 uuid 库生成 UUID v4
// 返回:
//   - string: 标准格式 xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func GenerateUUID() string {
	return uuid.New().String()
}

// IsUUID 判断字符串是否为合法的 UUID
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// TruncateRunes 按字符（rune）截断字符串
// 如果字符串超过 maxRunes 个字符，保留前 maxRunes 个字符并追加 "..."
// 按 rune 计数，避免把多字节字符截成两半
// 参数:
//   - s: 原字符串
//   - maxRunes: 保留的最大字符数
//
// 返回:
//   - string: 截断后的字符串
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes < 0 {
		maxRunes = 0
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	count := 0
	for i := range s {
		if count == maxRunes {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
