package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
)

// ValidateSignature checks a webhook signature against the request URL and
// POST form. Twilio signs the full URL with every form key and value
// appended in alphabetical key order, HMAC-SHA1 keyed with the account auth
// token, base64 encoded into the X-Twilio-Signature header.
func ValidateSignature(authToken, requestURL string, form url.Values, signature string) bool {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(requestURL))
	for _, k := range keys {
		mac.Write([]byte(k))
		// Only the first value of a repeated parameter is signed.
		if vs := form[k]; len(vs) > 0 {
			mac.Write([]byte(vs[0]))
		}
	}
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// RequireSignature rejects requests whose X-Twilio-Signature does not match
// authToken. publicHost, when set, replaces the Host header while
// reconstructing the signed URL: behind a TLS-terminating proxy the request
// arrives over plain HTTP with a rewritten Host, but the provider signed the
// public HTTPS URL.
func RequireSignature(next http.Handler, authToken, publicHost string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}
		sig := r.Header.Get("X-Twilio-Signature")
		if !ValidateSignature(authToken, requestURL(r, publicHost), r.PostForm, sig) {
			slog.Warn("telephony: rejecting webhook with bad signature",
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestURL reconstructs the absolute URL the provider signed.
func requestURL(r *http.Request, publicHost string) string {
	scheme := "https"
	host := publicHost
	if host == "" {
		host = r.Host
		if r.TLS == nil {
			scheme = "http"
		}
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
