package session

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"

	"github.com/nczempin/rawhttp-msgclient/client"
	"github.com/nczempin/rawhttp-msgclient/protocol"
)

const (
	placeholder = "—"
	separator   = "--------------------"
)

// WriteResponse prints status, headers and the raw body.
func WriteResponse(w io.Writer, resp *protocol.HttpResponse) {
	fmt.Fprintf(w, "\n--- HTTP response: %d ---\n", resp.StatusCode)
	for _, k := range sortedKeys(resp.Headers) {
		fmt.Fprintf(w, "%s: %s\n", k, resp.Headers[k])
	}
	fmt.Fprintln(w, "--- Body (raw) ---")
	if utf8.Valid(resp.Body) {
		fmt.Fprintln(w, string(resp.Body))
	} else {
		fmt.Fprintf(w, "%q\n", resp.Body)
	}
	fmt.Fprintln(w, "---------------")
	fmt.Fprintln(w)
}

// WriteMessages interprets body as JSON and prints it for humans: a message
// list, a generic object, a bare value or, failing that, the raw text.
func WriteMessages(w io.Writer, body []byte) {
	if !utf8.Valid(body) {
		fmt.Fprintln(w, "[error] body is not valid UTF-8.")
		fmt.Fprintf(w, "%q\n", body)
		return
	}

	txt := strings.TrimSpace(string(body))
	if txt == "" {
		fmt.Fprintln(w, "[info] Empty body.")
		return
	}

	var parsed any
	if err := json.Unmarshal([]byte(txt), &parsed); err != nil {
		fmt.Fprintln(w, "\n[raw non-JSON body]")
		fmt.Fprintln(w, txt)
		return
	}

	switch v := parsed.(type) {
	case []any:
		writeMessageList(w, v)
	case map[string]any:
		writeObject(w, v)
	default:
		fmt.Fprintln(w, "\n[JSON]")
		fmt.Fprintln(w, v)
	}
}

func writeMessageList(w io.Writer, items []any) {
	if len(items) == 0 {
		fmt.Fprintln(w, "\n[empty] No messages found.")
		return
	}

	fmt.Fprintln(w, "\n===== Messages =====")
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			fmt.Fprintf(w, "%d) (unexpected type) %v\n", i+1, item)
			fmt.Fprintln(w, separator)
			continue
		}
		m := client.MessageFromMap(obj)
		fmt.Fprintf(w, "%d) ID: %s\n", i+1, orPlaceholder(m.ID))
		fmt.Fprintf(w, "   Client IP: %s\n", orPlaceholder(m.ClientIP))
		fmt.Fprintf(w, "   Message: %q\n", oneLine(m.Text))
		fmt.Fprintln(w, separator)
	}
}

func writeObject(w io.Writer, obj map[string]any) {
	fmt.Fprintln(w, "\n===== JSON object =====")
	for _, k := range sortedKeys(obj) {
		if list, ok := obj[k].([]any); ok {
			fmt.Fprintf(w, "%s: (list of %d items)\n", k, len(list))
			for j, it := range list {
				fmt.Fprintf(w, "  %d) %v\n", j+1, it)
			}
			continue
		}
		fmt.Fprintf(w, "%s: %v\n", k, obj[k])
	}
	fmt.Fprintln(w, separator)
}

// WriteUpdated prints the message returned by a successful PATCH, or the raw
// response when the body is not a JSON object.
func WriteUpdated(w io.Writer, resp *protocol.HttpResponse) {
	m, err := client.DecodeMessage(resp.Body)
	if err != nil {
		fmt.Fprintln(w, "[info] Status 200, but the body could not be decoded as JSON. Raw response:")
		WriteResponse(w, resp)
		return
	}

	fmt.Fprintln(w, "\n[success] Message updated:")
	fmt.Fprintf(w, "ID: %s\n", orPlaceholder(m.ID))
	fmt.Fprintf(w, "Client IP: %s\n", orPlaceholder(m.ClientIP))
	fmt.Fprintf(w, "Message: %q\n", m.Text)
	fmt.Fprintln(w, separator)
}

func oneLine(s string) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	return strings.TrimSpace(strings.Join(lines, " "))
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
