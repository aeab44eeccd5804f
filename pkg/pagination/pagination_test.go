package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/bills"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=0", DefaultLimit, 0},
		{"?limit=-3", DefaultLimit, 0},
		{"?limit=500", MaxLimit, 0},
		{"?offset=-1", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("expected limit=%d offset=%d, got limit=%d offset=%d",
					tt.wantLimit, tt.wantOffset, p.Limit, p.Offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	items := []string{"a", "b"}

	resp := NewResponse(items, 5, Params{Limit: 2, Offset: 0})
	if !resp.HasMore {
		t.Error("expected HasMore with 5 total and first page of 2")
	}
	if resp.Total != 5 || resp.Limit != 2 || resp.Offset != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}

	last := NewResponse(items, 5, Params{Limit: 2, Offset: 4})
	if last.HasMore {
		t.Error("expected no more results on the last page")
	}
}
