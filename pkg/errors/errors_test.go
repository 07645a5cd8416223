package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_RecordsRawDetail(t *testing.T) {
	cause := stderrors.New("execution reverted: bet too early")
	err := Wrap(ErrContractRevert, cause)

	assert.True(t, stderrors.Is(err, ErrContractRevert))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "execution reverted: bet too early", err.Raw())
	// 原始错误码对象不被修改
	assert.Nil(t, ErrContractRevert.Details)
}

func TestWrap_KeepsExplicitRaw(t *testing.T) {
	err := Wrap(ErrContractRevert.WithDetail(DetailRaw, "BetAlreadyClaimed()"), stderrors.New("rpc error"))
	assert.Equal(t, "BetAlreadyClaimed()", err.Raw())
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	wrapped := fmt.Errorf("claim: %w", ErrOwnership)
	assert.Equal(t, ErrOwnership.Code, FromError(wrapped).Code)

	plain := FromError(stderrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)
	assert.Equal(t, "boom", plain.Raw())
}

func TestDescribe(t *testing.T) {
	msg, raw := Describe(Wrap(ErrTransactionFailed, stderrors.New("insufficient funds for gas")))
	assert.Equal(t, "transaction failed", msg)
	assert.Equal(t, "insufficient funds for gas", raw)

	msg, raw = Describe(stderrors.New("line one\nline two"))
	assert.Equal(t, "line one", msg)
	assert.Equal(t, "line one\nline two", raw)

	msg, raw = Describe(nil)
	assert.Empty(t, msg)
	assert.Empty(t, raw)
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(ErrBetInFlight))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(stderrors.New("x")))
	assert.Equal(t, "BET_IN_FLIGHT", GetCode(fmt.Errorf("wrap: %w", ErrBetInFlight)))
}

func TestMarshalJSON(t *testing.T) {
	data, err := json.Marshal(Wrap(ErrTimeout, stderrors.New("deadline")))
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "TIMEOUT", out["code"])
	assert.Equal(t, "deadline", out["raw"])
}
