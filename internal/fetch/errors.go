package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLimit 表示分页大小不在上游硬性上限 [1,1000] 内，属于配置错误。
	ErrInvalidLimit = errors.New("limit 必须在 1~1000 范围内")
	// ErrInvalidRange 表示调用方在需要推进的上下文里传入了 start >= end。
	ErrInvalidRange = errors.New("start 必须小于 end")
)

// TransportError 表示单次请求的网络层失败（连接拒绝、超时、DNS 等），可在预算内重试。
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("网络请求失败: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError 表示单次请求得到非 200 状态码，可在预算内重试。
// 限流（429/418）与普通服务端错误同等对待，走同一退避曲线。
type UpstreamError struct {
	Status  int
	Code    int64
	Message string
}

func (e *UpstreamError) Error() string {
	// SDK 层拿不到 HTTP 状态码时 Status 为 0，此时不渲染该段。
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("上游返回 HTTP %d (code=%d): %s", e.Status, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("上游返回 HTTP %d", e.Status)
	case e.Message != "":
		return fmt.Sprintf("上游返回错误 (code=%d): %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("上游返回错误 (code=%d)", e.Code)
	}
}

// ParseError 表示 200 响应体不符合约定的行格式。这是上游契约破坏，
// 重放同一请求不会得到不同结果，不进入重试预算。
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("响应解析失败: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchFailedError 表示某一页的重试预算耗尽，整个多页拉取终止；
// 已累积的部分结果被丢弃，Cause 保留最后一次失败原因供诊断。
type FetchFailedError struct {
	Attempts int
	Cause    error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("拉取失败（已重试 %d 次）: %v", e.Attempts, e.Cause)
}

func (e *FetchFailedError) Unwrap() error { return e.Cause }
