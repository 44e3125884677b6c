package patient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_RegisterUserAndPatient(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c, rec := jsonContext(e, http.MethodPost, `{"full_name":"Ada Lovelace","phone":"+15550100","notification_channel":"sms"}`)
	if err := h.RegisterUser(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var u User
	json.Unmarshal(rec.Body.Bytes(), &u)

	c, rec = jsonContext(e, http.MethodPost, `{"user_id":"`+u.ID.String()+`"}`)
	if err := h.RegisterPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_RegisterUser_BadRequest(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c, _ := jsonContext(e, http.MethodPost, `{"full_name":""}`)
	err := h.RegisterUser(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c, _ := jsonContext(e, http.MethodGet, "")
	c.SetParamNames("patient_id")
	c.SetParamValues(uuid.New().String())
	err := h.GetPatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}

	c, _ = jsonContext(e, http.MethodGet, "")
	c.SetParamNames("patient_id")
	c.SetParamValues("not-a-uuid")
	err = h.GetPatient(c)
	he, ok = err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
