package handler_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arpitdalal/tax-calculator/internal/tax"
	"github.com/arpitdalal/tax-calculator/internal/transport/http/handler"
)

type fakeCacheAdmin struct {
	clearedYears []int
	clearedAll   bool
}

func (f *fakeCacheAdmin) Clear(year int) {
	f.clearedYears = append(f.clearedYears, year)
}

func (f *fakeCacheAdmin) ClearAll() {
	f.clearedAll = true
}

func newCacheEngine(admin *fakeCacheAdmin) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	years := tax.Years{Min: 2019, Max: 2023, Default: 2022}
	h := handler.NewCacheHandler(admin, years, logger)

	r := gin.New()
	r.DELETE("/cache", h.ClearAll)
	r.DELETE("/cache/tax-year/:year", h.ClearYear)
	return r
}

func TestClearAll_Returns200(t *testing.T) {
	admin := &fakeCacheAdmin{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/cache", nil)
	newCacheEngine(admin).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Cache cleared successfully") {
		t.Errorf("body = %q, missing message", w.Body.String())
	}
	if !admin.clearedAll {
		t.Error("ClearAll was not called")
	}
}

func TestClearYear_Returns200(t *testing.T) {
	admin := &fakeCacheAdmin{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/cache/tax-year/2022", nil)
	newCacheEngine(admin).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Cache cleared for tax year 2022") {
		t.Errorf("body = %q, missing message", w.Body.String())
	}
	if len(admin.clearedYears) != 1 || admin.clearedYears[0] != 2022 {
		t.Errorf("cleared years = %v, want [2022]", admin.clearedYears)
	}
}

func TestClearYear_BadYear_Returns400(t *testing.T) {
	admin := &fakeCacheAdmin{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/cache/tax-year/abc", nil)
	newCacheEngine(admin).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(admin.clearedYears) != 0 {
		t.Errorf("cleared years = %v, want none", admin.clearedYears)
	}
}

func TestClearYear_OutOfRange_Returns400(t *testing.T) {
	admin := &fakeCacheAdmin{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/cache/tax-year/1990", nil)
	newCacheEngine(admin).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "between 2019 and 2023") {
		t.Errorf("body = %q, missing error message", w.Body.String())
	}
}
