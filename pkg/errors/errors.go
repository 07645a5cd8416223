package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	newErr := e.Copy()
	if newErr.Details == nil {
		newErr.Details = make(map[string]string, 1)
	}
	newErr.Details[key] = value
	return newErr
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	newErr := e.Copy()
	newErr.Message = message
	return newErr
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	newErr := &Error{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Cause:      e.Cause,
	}
	if e.Details != nil {
		newErr.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			newErr.Details[k] = v
		}
	}
	return newErr
}

// Raw 原始错误信息, 供界面展开查看
func (e *Error) Raw() string {
	if raw, ok := e.Details[DetailRaw]; ok {
		return raw
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return ""
}

// MarshalJSON 输出 code/message/raw
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Raw string `json:"raw,omitempty"`
	}{
		Alias: (*Alias)(e),
		Raw:   e.Raw(),
	})
}

// DetailRaw 原始错误详情的 key
const DetailRaw = "raw"

// New 创建新错误
func New(code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewWithStatus 创建带状态码的错误
func NewWithStatus(code, message string, httpStatus int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap 包装错误, 原因同时记入 raw 详情
func Wrap(err *Error, cause error) *Error {
	newErr := err.Copy()
	newErr.Cause = cause
	if cause != nil {
		if newErr.Details == nil {
			newErr.Details = make(map[string]string, 1)
		}
		if _, ok := newErr.Details[DetailRaw]; !ok {
			newErr.Details[DetailRaw] = cause.Error()
		}
	}
	return newErr
}

// FromError 从标准错误转换
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	return Wrap(ErrInternal, err)
}

// GetCode 获取错误码
func GetCode(err error) string {
	if e := FromError(err); e != nil {
		return e.Code
	}
	return ""
}

// ToHTTPStatus 获取 HTTP 状态码
func ToHTTPStatus(err error) int {
	if e := FromError(err); e != nil && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Describe 返回简短的提示信息和原始详情
func Describe(err error) (message, raw string) {
	if err == nil {
		return "", ""
	}
	e := FromError(err)
	raw = e.Raw()
	if e.Code == ErrInternal.Code {
		return shorten(raw), raw
	}
	return e.Message, raw
}

// shorten 截取底层错误的第一行作为提示
func shorten(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

// 通用错误码
var (
	ErrInternal       = NewWithStatus("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrInvalidRequest = NewWithStatus("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrNotFound       = NewWithStatus("NOT_FOUND", "not found", http.StatusNotFound)
	ErrTimeout        = NewWithStatus("TIMEOUT", "timed out", http.StatusGatewayTimeout)
	ErrUnavailable    = NewWithStatus("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

// 下注流程错误码
var (
	ErrUserRejected      = NewWithStatus("USER_REJECTED", "cancelled", http.StatusOK)
	ErrBetInFlight       = NewWithStatus("BET_IN_FLIGHT", "a bet is already in progress", http.StatusConflict)
	ErrSponsorship       = NewWithStatus("SPONSORSHIP_FAILED", "sponsored relay unavailable", http.StatusBadGateway)
	ErrOwnership         = NewWithStatus("OWNERSHIP_MISMATCH", "event belongs to another player", http.StatusConflict)
	ErrSessionInvalid    = NewWithStatus("SESSION_INVALID", "session is no longer valid", http.StatusPreconditionFailed)
	ErrContractRevert    = NewWithStatus("CONTRACT_REVERT", "transaction reverted", http.StatusUnprocessableEntity)
	ErrResultUnknown     = NewWithStatus("RESULT_UNKNOWN", "result not available yet", http.StatusAccepted)
	ErrBetNotFound       = NewWithStatus("BET_NOT_FOUND", "bet not found", http.StatusNotFound)
	ErrInvalidAmount     = NewWithStatus("INVALID_AMOUNT", "invalid amount", http.StatusBadRequest)
	ErrInvalidOdds       = NewWithStatus("INVALID_ODDS", "invalid odds", http.StatusBadRequest)
	ErrAboveMaxBet       = NewWithStatus("ABOVE_MAX_BET", "amount exceeds maximum bet", http.StatusBadRequest)
	ErrNoWallet          = NewWithStatus("NO_WALLET", "no wallet connected", http.StatusPreconditionFailed)
	ErrBlockUnavailable  = NewWithStatus("BLOCK_HASH_UNAVAILABLE", "block hash unavailable", http.StatusAccepted)
	ErrClaimInProgress   = NewWithStatus("CLAIM_IN_PROGRESS", "claim already in progress", http.StatusConflict)
	ErrIndexerQuery      = NewWithStatus("INDEXER_QUERY_FAILED", "history query failed", http.StatusBadGateway)
	ErrSessionNotActive  = NewWithStatus("SESSION_NOT_ACTIVE", "no active session", http.StatusPreconditionFailed)
	ErrDelegateMismatch  = NewWithStatus("DELEGATE_MISMATCH", "session key does not match stored delegate", http.StatusConflict)
	ErrSessionCreating   = NewWithStatus("SESSION_CREATING", "session creation already in progress", http.StatusConflict)
	ErrTransactionFailed = NewWithStatus("TX_FAILED", "transaction failed", http.StatusBadGateway)

	ErrSubmissionUnconfirmed = NewWithStatus("SUBMISSION_UNCONFIRMED", "submitted, confirmation still pending", http.StatusAccepted)
)
