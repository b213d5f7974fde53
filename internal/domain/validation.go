package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail   = errors.New("invalid email format")
	ErrEmailTooLong   = errors.New("email address too long")
	ErrInvalidCountry = errors.New("invalid country code")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength = 254
	// 聊天身份最大长度（Telegram chat_id 或 @username）
	MaxIdentityLength = 64
)

var (
	// 聊天 ID（可能为负数的群组 ID）或 @username
	identityRegex = regexp.MustCompile(`^(-?[0-9]{1,20}|@[a-zA-Z][a-zA-Z0-9_]{3,31})$`)

	// ISO 3166-1 alpha-2 国家代码
	countryRegex = regexp.MustCompile(`^[A-Z]{2}$`)
)

// NormalizeAddress 规范化并验证邮箱地址
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(strings.ToLower(address))
	if len(address) > MaxEmailLength {
		return "", ErrEmailTooLong
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return "", ErrInvalidEmail
	}
	if strings.Count(address, "@") != 1 {
		return "", ErrInvalidEmail
	}
	return address, nil
}

// ValidateIdentity 验证聊天身份
func ValidateIdentity(identity string) error {
	if identity == "" || len(identity) > MaxIdentityLength {
		return ErrInvalidIdentity
	}
	if !identityRegex.MatchString(identity) {
		return ErrInvalidIdentity
	}
	return nil
}

// NormalizeCountry 规范化国家代码，空值返回错误
func NormalizeCountry(country string) (string, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if !countryRegex.MatchString(country) {
		return "", ErrInvalidCountry
	}
	return country, nil
}
