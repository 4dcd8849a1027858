package lockout

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// IdentityFunc extrai a identidade de login de uma requisição.
// String vazia significa "sem identidade": a requisição passa sem lockout.
type IdentityFunc func(r *http.Request) string

// maxIdentityBody limita quanto do corpo é lido para achar a identidade.
const maxIdentityBody = 64 << 10

// DefaultIdentityFunc procura a identidade no header (se configurado) e depois
// no campo `field` do corpo (application/x-www-form-urlencoded ou JSON).
//
// O corpo lido é devolvido intacto em r.Body para o próximo handler.
// A identidade é usada como veio, sem normalização.
func DefaultIdentityFunc(header, field string) IdentityFunc {
	return func(r *http.Request) string {
		if header != "" {
			if v := r.Header.Get(header); v != "" {
				return v
			}
		}
		if field == "" || r.Body == nil || r.Body == http.NoBody {
			return ""
		}

		body, err := peekBody(r)
		if err != nil || len(body) == 0 {
			return ""
		}

		mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch {
		case mt == "application/x-www-form-urlencoded":
			vals, err := url.ParseQuery(string(body))
			if err != nil {
				return ""
			}
			return vals.Get(field)
		case mt == "application/json" || strings.HasSuffix(mt, "+json"):
			var doc map[string]any
			if err := json.Unmarshal(body, &doc); err != nil {
				return ""
			}
			if s, ok := doc[field].(string); ok {
				return s
			}
		}
		return ""
	}
}

// identityFunc aplica o padrão de Options/AttemptOptions quando fn é nil.
func identityFunc(fn IdentityFunc, header, field string) IdentityFunc {
	if fn != nil {
		return fn
	}
	if field == "" {
		field = "login"
	}
	return DefaultIdentityFunc(header, field)
}

// peekBody lê até maxIdentityBody bytes e recoloca tudo em r.Body.
func peekBody(r *http.Request) ([]byte, error) {
	head, err := io.ReadAll(io.LimitReader(r.Body, maxIdentityBody))
	if err != nil {
		return nil, err
	}
	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(head), r.Body),
		Closer: r.Body,
	}
	return head, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
