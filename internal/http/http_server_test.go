package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServerTest(t *testing.T) (*state.State, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.APISecret = "topsecret"
	st := state.InitializeState(db.NewDatabaseManager())
	return st, NewHTTPServer(st).router()
}

func TestHealthzIsPublic(t *testing.T) {
	_, r := setupServerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresSecret(t *testing.T) {
	_, r := setupServerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	req.Header.Set("X-Api-Secret", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListTransactions(t *testing.T) {
	st, r := setupServerTest(t)

	_, err := st.SaveTransaction(&db.Transaction{
		Chain: "Ethereum", ChainID: 1, TxHash: "0xe1", Status: types.TxStatusConfirmed, Amount: 2500,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	req.Header.Set("X-Api-Secret", "topsecret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string           `json:"status"`
		Data   []db.Transaction `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "0xe1", resp.Data[0].TxHash)
	assert.Equal(t, uint64(2500), resp.Data[0].Amount)
}

func TestListTransactionsRejectsBadParams(t *testing.T) {
	_, r := setupServerTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?since=yesterday", nil)
	req.Header.Set("X-Api-Secret", "topsecret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/transactions?limit=100000", nil)
	req.Header.Set("X-Api-Secret", "topsecret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListInflightSubmissions(t *testing.T) {
	st, r := setupServerTest(t)

	require.NoError(t, st.SaveSubmission(&db.Submission{
		OfferID: "2001", TxHash: "0xe2", SubmissionStatus: types.SubmissionInflight, TimeoutHeight: 900,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions", nil)
	req.Header.Set("X-Api-Secret", "topsecret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []db.Submission `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "2001", resp.Data[0].OfferID)
}
