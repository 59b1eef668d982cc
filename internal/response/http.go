package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

var contentTypes = map[models.Format]string{
	models.FormatEmail: "text/html",
	models.FormatJSON:  "text/json",
	models.FormatXML:   "text/xml",
}

// ContentType returns the response content type for a request format.
func ContentType(f models.Format) string {
	if ct, ok := contentTypes[models.Format(strings.ToLower(string(f)))]; ok {
		return ct + "; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Body serializes a result for the HTTP channel.
//
// JSON requests get a JSON body; errors are wrapped as {"error": payload}.
// Other formats get strings written as-is and structured payloads encoded
// as JSON. Error payloads of non-JSON formats are not wrapped.
func Body(f models.Format, r Result) ([]byte, error) {
	if strings.EqualFold(string(f), string(models.FormatJSON)) {
		payload := r.Payload
		if r.Code >= 400 {
			payload = gin.H{"error": r.Payload}
		}
		return json.Marshal(payload)
	}

	switch p := r.Payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	case int, int32, int64, uint, uint32, uint64:
		return []byte(fmt.Sprint(p)), nil
	}
	return json.Marshal(r.Payload)
}

// HTTP renders results on a gin response and stops the handler chain.
type HTTP struct {
	C      *gin.Context
	Format models.Format
}

func (h HTTP) Render(r Result) {
	body, err := Body(h.Format, r)
	if err != nil {
		h.C.Data(http.StatusInternalServerError, ContentType(h.Format), []byte("response encoding failed"))
		h.C.Abort()
		return
	}
	h.C.Data(r.Code, ContentType(h.Format), body)
	h.C.Abort()
}
