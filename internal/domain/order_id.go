package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// OrderIDPrefix 订单号前缀
	OrderIDPrefix = "ORD"
	// OrderIDRandomLength 前缀后的随机字符数
	OrderIDRandomLength = 8

	orderIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// IDSource 生成候选订单号
type IDSource func() (string, error)

// RandomOrderID 从密码学安全随机源生成 "ORD" + 8 位大写字母数字
func RandomOrderID() (string, error) {
	var sb strings.Builder
	sb.Grow(len(OrderIDPrefix) + OrderIDRandomLength)
	sb.WriteString(OrderIDPrefix)
	limit := big.NewInt(int64(len(orderIDAlphabet)))
	for range OrderIDRandomLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(orderIDAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NewUniqueOrderID 生成一个不在 existing 中的订单号，碰撞时重试，最多 maxAttempts 次
func NewUniqueOrderID(source IDSource, existing map[string]struct{}, maxAttempts int) (string, error) {
	if source == nil {
		source = RandomOrderID
	}
	for range maxAttempts {
		id, err := source()
		if err != nil {
			return "", err
		}
		if _, taken := existing[id]; !taken {
			return id, nil
		}
	}
	return "", ErrOrderIDExhausted
}

// IsValidOrderID 校验订单号格式
func IsValidOrderID(id string) bool {
	if len(id) != len(OrderIDPrefix)+OrderIDRandomLength || !strings.HasPrefix(id, OrderIDPrefix) {
		return false
	}
	for _, c := range id[len(OrderIDPrefix):] {
		if !strings.ContainsRune(orderIDAlphabet, c) {
			return false
		}
	}
	return true
}
