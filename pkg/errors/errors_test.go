package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestAppError_Is 測試錯誤碼比對
func TestAppError_Is(t *testing.T) {
	wrapped := fmt.Errorf("claim seat: %w", apperrors.ErrAdminNotAttached)

	assert.True(t, stderrors.Is(wrapped, apperrors.ErrAdminMismatch), "same code should match")
	assert.True(t, apperrors.IsInvalidClaim(wrapped))
	assert.False(t, apperrors.IsNotFound(wrapped))
	assert.False(t, stderrors.Is(wrapped, apperrors.ErrRoomNotFound))
}

// TestAppError_Error 測試錯誤訊息格式
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *apperrors.AppError
		want string
	}{
		{
			name: "plain",
			err:  apperrors.New(apperrors.ErrCodeExpired, "expired"),
			want: "[EXPIRED] expired",
		},
		{
			name: "wrapped",
			err:  apperrors.Wrap(stderrors.New("dial tcp"), apperrors.ErrCodeFormationFailed, "notify"),
			want: "[FORMATION_FAILED] notify: dial tcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

// TestAppError_WithDetails 預定義錯誤不應被修改
func TestAppError_WithDetails(t *testing.T) {
	detailed := apperrors.ErrRoomNotFound.WithDetails("room_abc")

	assert.Equal(t, "room_abc", detailed.Details)
	assert.Empty(t, apperrors.ErrRoomNotFound.Details)
	assert.True(t, apperrors.IsNotFound(detailed))
}

// TestAppError_Unwrap 測試底層錯誤可被取出
func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := apperrors.Wrap(cause, apperrors.ErrCodeSimulationFault, "tick")

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, apperrors.IsSimulationFault(err))
}

// TestAppError_NestedCode 外層 AppError 之下的錯誤碼也能辨識
func TestAppError_NestedCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		validate func(t *testing.T, err error)
	}{
		{
			name: "app error wrapping app error",
			err:  apperrors.Wrap(apperrors.ErrRoomNotFound, apperrors.ErrCodeInvalidClaim, "claim rejected"),
			validate: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsInvalidClaim(err))
				assert.True(t, apperrors.IsNotFound(err))
				assert.False(t, apperrors.IsFormationFailed(err))
			},
		},
		{
			name: "fmt wrap around nested app errors",
			err: fmt.Errorf("form party: %w",
				apperrors.Wrap(apperrors.ErrRequestExpired, apperrors.ErrCodeFormationFailed, "notify")),
			validate: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsFormationFailed(err))
				assert.True(t, stderrors.Is(err, apperrors.ErrRequestExpired))
				assert.False(t, apperrors.IsNotFound(err))
			},
		},
		{
			name: "plain error",
			err:  stderrors.New("boom"),
			validate: func(t *testing.T, err error) {
				assert.False(t, apperrors.IsNotFound(err))
				assert.False(t, apperrors.IsInvalidClaim(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, tt.err)
		})
	}
}
