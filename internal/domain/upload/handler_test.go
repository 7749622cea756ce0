package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func seededHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	svc := NewService(newMockRepo())
	for _, u := range []*Upload{
		{UploadID: 1, TransformName: "cms_dx", SourceCD: "CMS"},
		{UploadID: 2, TransformName: "cms_px", SourceCD: "CMS"},
		{UploadID: 3, TransformName: "cms_dx", SourceCD: "CMS"},
	} {
		if err := svc.Begin(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	return NewHandler(svc), echo.New()
}

func TestHandler_ListUploads(t *testing.T) {
	h, e := seededHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads?pipeline=cms_dx", nil)
	rec := httptest.NewRecorder()
	if err := h.ListUploads(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Items   []Upload `json:"items"`
		HasMore bool     `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 2 || body.Items[0].UploadID != 3 || body.HasMore {
		t.Errorf("expected uploads 3 and 1 newest first, got %+v", body)
	}
}

func TestHandler_ListUploads_BadLimit(t *testing.T) {
	h, e := seededHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads?limit=ten", nil)
	err := h.ListUploads(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetUpload(t *testing.T) {
	h, e := seededHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("2")

	if err := h.GetUpload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var u Upload
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatal(err)
	}
	if u.TransformName != "cms_px" || u.LoadStatus != StatusStarted {
		t.Errorf("unexpected upload %+v", u)
	}
}

func TestHandler_GetUpload_NotFound(t *testing.T) {
	h, e := seededHandler(t)

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/uploads/99", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("99")

	err := h.GetUpload(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
