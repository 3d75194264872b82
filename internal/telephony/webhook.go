package telephony

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// forwardedQueryParams are routing hints the scheduler appends to the answer
// URL of an outbound call. They are relayed to the media stream as custom
// parameters so the session can be assembled before any audio arrives.
var forwardedQueryParams = []string{"senior_id", "kind", "delivery_id"}

// AnswerWebhook returns the handler for the voice answer webhook. It replies
// with TwiML that connects the call to a bidirectional media stream at
// streamURL (a wss:// URL pointing back at this server), forwarding the
// caller number and any routing hints as stream parameters.
func AnswerWebhook(streamURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		params := map[string]string{}
		if from := r.FormValue("From"); from != "" {
			params["caller"] = from
		}
		for _, key := range forwardedQueryParams {
			if v := r.URL.Query().Get(key); v != "" {
				params[key] = v
			}
		}

		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, connectStreamTwiML(streamURL, params))
	})
}

// connectStreamTwiML renders the <Connect><Stream> document. Parameters are
// emitted in sorted order so responses are stable.
func connectStreamTwiML(streamURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("\n<Response>\n  <Connect>\n")
	fmt.Fprintf(&b, "    <Stream url=\"%s\">\n", xmlEscape(streamURL))
	for _, k := range keys {
		fmt.Fprintf(&b, "      <Parameter name=\"%s\" value=\"%s\"/>\n", xmlEscape(k), xmlEscape(params[k]))
	}
	b.WriteString("    </Stream>\n  </Connect>\n</Response>")
	return b.String()
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
