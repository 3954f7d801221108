package ping

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fiscalai-backend/testutils"

	"github.com/stretchr/testify/assert"
)

func TestHandlePing(t *testing.T) {
	testutils.InitTestMain()
	r := testutils.SetupTestRouter()
	handler := New()
	r.GET("/ping", handler.HandlePing)

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)

	var respBody map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "pong", respBody["message"])
}
