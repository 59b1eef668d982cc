package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

func TestExitCodeTable(t *testing.T) {
	cases := map[int]int{
		201: 0,
		400: 66,
		401: 77,
		403: 77,
		415: 65,
		416: 65,
		417: 65,
		501: 65,
		503: 69,
		500: 75,
		404: 75,
		599: 75,
		200: 75,
	}
	for code, want := range cases {
		assert.Equal(t, want, ExitCode(code), "code %d", code)
	}
}

func TestExitRendererDropsPayload(t *testing.T) {
	var got []int
	r := Exit{Exit: func(code int) { got = append(got, code) }}

	r.Render(Result{Code: 403, Payload: "Ticket denied"})
	r.Render(Created("123456"))

	assert.Equal(t, []int{77, 0}, got)
}

func TestJSONErrorBodyWrapsPayloadProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := rapid.IntRange(400, 599).Draw(rt, "code")
		var payload any
		switch rapid.IntRange(0, 2).Draw(rt, "kind") {
		case 0:
			payload = rapid.String().Draw(rt, "message")
		case 1:
			payload = map[string]any{"field": rapid.StringMatching(`[a-z]{0,8}`).Draw(rt, "value")}
		default:
			payload = []any{rapid.StringMatching(`[a-z]{0,8}`).Draw(rt, "item")}
		}

		body, err := Body(models.FormatJSON, Result{Code: code, Payload: payload})
		require.NoError(rt, err)

		var decoded map[string]any
		require.NoError(rt, json.Unmarshal(body, &decoded))
		require.Len(rt, decoded, 1)

		want, _ := json.Marshal(payload)
		got, _ := json.Marshal(decoded["error"])
		assert.JSONEq(rt, string(want), string(got))
	})
}

func TestBodySuccessAndOtherFormats(t *testing.T) {
	body, err := Body(models.FormatJSON, Created(map[string]any{"user": 3, "number": "100042"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":3,"number":"100042"}`, string(body))

	body, err = Body(models.FormatXML, Created("100042"))
	require.NoError(t, err)
	assert.Equal(t, "100042", string(body))

	body, err = Body(models.FormatEmail, Result{Code: 400, Payload: "bad"})
	require.NoError(t, err)
	assert.Equal(t, "bad", string(body))

	body, err = Body(models.FormatXML, Created(map[string]int{"ticket_id": 9}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticket_id":9}`, string(body))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/html; charset=utf-8", ContentType(models.FormatEmail))
	assert.Equal(t, "text/json; charset=utf-8", ContentType(models.FormatJSON))
	assert.Equal(t, "text/xml; charset=utf-8", ContentType("XML"))
}

func TestHTTPRendererAbortsChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reached := false

	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		HTTP{C: c, Format: models.FormatJSON}.Render(FromError(apierr.NotFound("Unable to find the ticket")))
	}, func(c *gin.Context) {
		reached = true
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, reached)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Unable to find the ticket"}`, w.Body.String())
	assert.Equal(t, "text/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestFromErrorHidesCause(t *testing.T) {
	res := FromError(errors.New("pq: relation does not exist"))
	assert.Equal(t, 500, res.Code)
	assert.Equal(t, "internal error", res.Payload)
}
