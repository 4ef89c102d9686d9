package domain

import (
	"errors"
	"fmt"
)

// 业务错误哨兵值，配合 errors.Is 使用
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limited")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderIDExhausted  = errors.New("could not generate a unique order id")
)

// InsufficientStockError 某商品总库存不足以满足请求数量
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ProductNotFoundError 目录中不存在该商品
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// InvalidInputError 请求字段缺失或取值非法
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid input: %s", e.Field)
	}
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// RateLimitedError 来源在限制窗口内已下过单
type RateLimitedError struct {
	MinutesRemaining int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %d minutes", e.MinutesRemaining)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// OrderNotFoundError 订单不存在
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

func (e *OrderNotFoundError) Is(target error) bool { return target == ErrOrderNotFound }

// InvalidTransitionError 状态机中未定义的迁移
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func invalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}
