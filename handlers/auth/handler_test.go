package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"fiscalai-backend/testutils"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	testutils.InitTestMain()
	os.Setenv("JWT_SECRET", "test_secret")

	log.SetOutput(io.Discard)

	exitCode := m.Run()

	log.SetOutput(os.Stdout)

	os.Exit(exitCode)
}

func postJSON(r http.Handler, path string, body map[string]string) *httptest.ResponseRecorder {
	jsonData, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewBuffer(jsonData))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRegister_Success(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE email = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users" (.+) RETURNING "id"`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("22222222-2222-2222-2222-222222222222"))
	mock.ExpectCommit()

	r := testutils.SetupTestRouter()
	r.POST("/register", Register)

	resp := postJSON(r, "/register", map[string]string{
		"email":    "maria@example.com",
		"password": "Password123",
		"name":     "Maria",
	})

	assert.Equal(t, http.StatusCreated, resp.Code)

	var respBody map[string]string
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "User created successfully", respBody["message"])
	assert.Equal(t, "maria@example.com", respBody["email"])
}

func TestRegister_EmailAlreadyUsed(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE email = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "email"}).
			AddRow("22222222-2222-2222-2222-222222222222", "maria@example.com"))

	r := testutils.SetupTestRouter()
	r.POST("/register", Register)

	resp := postJSON(r, "/register", map[string]string{
		"email":    "maria@example.com",
		"password": "Password123",
	})

	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestRegister_WeakPassword(t *testing.T) {
	r := testutils.SetupTestRouter()
	r.POST("/register", Register)

	resp := postJSON(r, "/register", map[string]string{
		"email":    "maria@example.com",
		"password": "alllowercase",
	})

	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var respBody map[string]string
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Contains(t, respBody["error"], "lowercase")
}

func TestRegister_InvalidEmailFormat(t *testing.T) {
	r := testutils.SetupTestRouter()
	r.POST("/register", Register)

	resp := postJSON(r, "/register", map[string]string{
		"email":    "not-an-email",
		"password": "Password123",
	})

	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var respBody map[string]string
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Contains(t, respBody["error"], "Field validation for 'Email' failed")
}

func TestLogin_Success(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	hash, _ := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE email = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "email", "password", "role", "enable"}).
			AddRow("22222222-2222-2222-2222-222222222222", "maria@example.com", string(hash), "USER", true))

	r := testutils.SetupTestRouter()
	r.POST("/login", Login)

	resp := postJSON(r, "/login", map[string]string{
		"email":    "maria@example.com",
		"password": "Password123",
	})

	assert.Equal(t, http.StatusOK, resp.Code)

	var respBody map[string]string
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.NotEmpty(t, respBody["token"])
}

func TestLogin_WrongPassword(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	hash, _ := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE email = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "email", "password", "enable"}).
			AddRow("22222222-2222-2222-2222-222222222222", "maria@example.com", string(hash), true))

	r := testutils.SetupTestRouter()
	r.POST("/login", Login)

	resp := postJSON(r, "/login", map[string]string{
		"email":    "maria@example.com",
		"password": "WrongPassword1",
	})

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLogin_UnknownEmail(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE email = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)

	r := testutils.SetupTestRouter()
	r.POST("/login", Login)

	resp := postJSON(r, "/login", map[string]string{
		"email":    "ghost@example.com",
		"password": "Password123",
	})

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLogin_DisabledAccount(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	hash, _ := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE email = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "email", "password", "enable"}).
			AddRow("22222222-2222-2222-2222-222222222222", "maria@example.com", string(hash), false))

	r := testutils.SetupTestRouter()
	r.POST("/login", Login)

	resp := postJSON(r, "/login", map[string]string{
		"email":    "maria@example.com",
		"password": "Password123",
	})

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
