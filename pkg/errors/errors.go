// Package errors 提供遊戲會話引擎的錯誤分類
//
// 錯誤碼對應系統中的失敗類型：
//   - FORMATION_FAILED：配對成功但通知遊戲主機失敗，整組解散
//   - INVALID_CLAIM：認領座位失敗（房間不存在、admin 不符、admin 尚未就位）
//   - DUPLICATE_REQUEST：玩家已在佇列或房間中
//   - DELIVERY_FAILED：廣播給單一連線失敗（只記錄，不向上拋）
//   - SIMULATION_FAULT：tick 內遊戲邏輯出錯，該房間中止
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeFormationFailed 組隊通知失敗
	ErrCodeFormationFailed = "FORMATION_FAILED"
	// ErrCodeInvalidClaim 無效的座位認領
	ErrCodeInvalidClaim = "INVALID_CLAIM"
	// ErrCodeDuplicateRequest 重複的配對請求
	ErrCodeDuplicateRequest = "DUPLICATE_REQUEST"
	// ErrCodeDeliveryFailed 訊息投遞失敗
	ErrCodeDeliveryFailed = "DELIVERY_FAILED"
	// ErrCodeSimulationFault 模擬錯誤
	ErrCodeSimulationFault = "SIMULATION_FAULT"
	// ErrCodeExpired 請求過期
	ErrCodeExpired = "EXPIRED"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（錯誤碼相同即視為同一類錯誤）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶有詳細資訊的副本
//
// 預定義錯誤是共用的，直接修改會污染其他呼叫者，所以這裡複製一份。
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrUnknownMode 未知的遊戲模式
	ErrUnknownMode = New(ErrCodeInvalidInput, "unknown game mode")

	// ErrPlayerCountMismatch 玩家數量與模式不符
	ErrPlayerCountMismatch = New(ErrCodeInvalidInput, "player count does not match game mode")

	// ErrAdminNotAttached admin 尚未連線，拒絕玩家認領
	ErrAdminNotAttached = New(ErrCodeInvalidClaim, "admin has not attached yet")

	// ErrAdminMismatch admin id 不符
	ErrAdminMismatch = New(ErrCodeInvalidClaim, "admin id mismatch")

	// ErrRoomClosed 房間已結束
	ErrRoomClosed = New(ErrCodeInvalidClaim, "room is closed")

	// ErrNotAPlayer 只有玩家可以執行此操作
	ErrNotAPlayer = New(ErrCodeInvalidClaim, "session is not a player of this room")

	// ErrAlreadyActive 玩家已在佇列或房間中
	ErrAlreadyActive = New(ErrCodeDuplicateRequest, "player already has an active status")

	// ErrNotWaiting 請求不在等待中（已配對或不存在）
	ErrNotWaiting = New(ErrCodeNotFound, "no waiting request for player")

	// ErrFormationFailed 通知遊戲主機失敗
	ErrFormationFailed = New(ErrCodeFormationFailed, "room formation failed")

	// ErrRequestExpired 配對請求逾時
	ErrRequestExpired = New(ErrCodeExpired, "matchmaking request expired")

	// ErrQueueStopped 配對佇列已停止
	ErrQueueStopped = New(ErrCodeUnavailable, "matchmaking queue stopped")

	// ErrSessionClosed 連線已關閉
	ErrSessionClosed = New(ErrCodeDeliveryFailed, "session closed")

	// ErrSendBufferFull 連線發送緩衝區已滿
	ErrSendBufferFull = New(ErrCodeDeliveryFailed, "send buffer full")

	// ErrSimulationFault 模擬步驟出錯
	ErrSimulationFault = New(ErrCodeSimulationFault, "simulation step failed")

	// ErrInvalidInput 無效的玩家輸入
	ErrInvalidInput = New(ErrCodeInvalidInput, "invalid input")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsInvalidClaim 檢查是否為無效認領
func IsInvalidClaim(err error) bool {
	return hasCode(err, ErrCodeInvalidClaim)
}

// IsDuplicateRequest 檢查是否為重複請求
func IsDuplicateRequest(err error) bool {
	return hasCode(err, ErrCodeDuplicateRequest)
}

// IsFormationFailed 檢查是否為組隊失敗
func IsFormationFailed(err error) bool {
	return hasCode(err, ErrCodeFormationFailed)
}

// IsDeliveryFailed 檢查是否為投遞失敗
func IsDeliveryFailed(err error) bool {
	return hasCode(err, ErrCodeDeliveryFailed)
}

// IsSimulationFault 檢查是否為模擬錯誤
func IsSimulationFault(err error) bool {
	return hasCode(err, ErrCodeSimulationFault)
}

// IsInvalidInput 檢查是否為無效輸入
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// hasCode 沿著錯誤鏈尋找指定錯誤碼，包裝在其他 AppError 之下的也算
func hasCode(err error, code string) bool {
	return errors.Is(err, &AppError{Code: code})
}
