package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/orderdesk/orderdesk/pkg/errors"
)

func recordJSON(t *testing.T, write func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	write(c)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestSuccessEnvelope(t *testing.T) {
	rec, body := recordJSON(t, func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"security_question": "First pet?"})
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	require.Nil(t, body.Error)
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	rec, body := recordJSON(t, func(c *gin.Context) {
		Error(c, appErrors.ErrInvalidAttempt)
	})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, body.Success)
	require.Equal(t, "RECOVERY_INVALID", body.Error.Code)
}

func TestErrorWrapsUnknown(t *testing.T) {
	rec, body := recordJSON(t, func(c *gin.Context) {
		Error(c, errors.New("cache unavailable"))
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, appErrors.ErrInternalServer.Code, body.Error.Code)
	require.NotContains(t, body.Error.Message, "cache unavailable")
}

func TestErrorWithDetails(t *testing.T) {
	rec, body := recordJSON(t, func(c *gin.Context) {
		ErrorWithDetails(c, appErrors.ErrAccountLocked, map[string]interface{}{"wait_minutes": 15})
	})

	require.Equal(t, http.StatusLocked, rec.Code)
	require.Equal(t, "RECOVERY_LOCKED", body.Error.Code)
	require.EqualValues(t, 15, body.Error.Details["wait_minutes"])
}
