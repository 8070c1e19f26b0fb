// Package unsubscribe executes List-Unsubscribe actions for a message.
package unsubscribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mailzero/mailzero/internal/mail"
	"golang.org/x/net/html"
)

var (
	// ErrManualActionRequired means the sender only offers a link the user has to visit
	ErrManualActionRequired = errors.New("manual unsubscribe required")
	// ErrNoUnsubscribe means the message carries no unsubscribe information at all
	ErrNoUnsubscribe = errors.New("no unsubscribe option found")
)

// ManualActionError carries the link the user has to open
type ManualActionError struct {
	URL string
}

func (e *ManualActionError) Error() string {
	return fmt.Sprintf("manual unsubscribe required: %s", e.URL)
}

func (e *ManualActionError) Unwrap() error { return ErrManualActionRequired }

// Method is how an unsubscribe is carried out
type Method int

const (
	MethodNone Method = iota
	MethodOneClick
	MethodMailto
	MethodManual
)

func (m Method) String() string {
	switch m {
	case MethodOneClick:
		return "one-click"
	case MethodMailto:
		return "mailto"
	case MethodManual:
		return "manual"
	default:
		return "none"
	}
}

// Action is the resolved unsubscribe action of a message
type Action struct {
	Method  Method
	URL     string
	To      string
	Subject string
	Body    string
}

const oneClickBody = "List-Unsubscribe=One-Click"

// ParseAction picks the best unsubscribe action for msg. One-click POST wins
// over mailto, mailto over a plain link; the HTML body is the last resort.
func ParseAction(msg mail.Message) Action {
	uris := parseListHeader(msg.ListUnsubscribe)
	var httpsURL, httpURL, mailto string
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		switch strings.ToLower(u.Scheme) {
		case "https":
			if httpsURL == "" {
				httpsURL = raw
			}
		case "http":
			if httpURL == "" {
				httpURL = raw
			}
		case "mailto":
			if mailto == "" {
				mailto = raw
			}
		}
	}

	if httpsURL != "" && strings.Contains(strings.ToLower(msg.ListUnsubscribePost), strings.ToLower(oneClickBody)) {
		return Action{Method: MethodOneClick, URL: httpsURL}
	}
	if mailto != "" {
		if a, ok := parseMailto(mailto); ok {
			return a
		}
	}
	if httpsURL != "" {
		return Action{Method: MethodManual, URL: httpsURL}
	}
	if httpURL != "" {
		return Action{Method: MethodManual, URL: httpURL}
	}
	if link := findBodyLink(msg.HTML); link != "" {
		return Action{Method: MethodManual, URL: link}
	}
	return Action{Method: MethodNone}
}

// parseListHeader returns the URIs enclosed in angle brackets, in header order
func parseListHeader(value string) []string {
	var out []string
	for {
		start := strings.IndexByte(value, '<')
		if start < 0 {
			return out
		}
		end := strings.IndexByte(value[start+1:], '>')
		if end < 0 {
			return out
		}
		if uri := strings.TrimSpace(value[start+1 : start+1+end]); uri != "" {
			out = append(out, uri)
		}
		value = value[start+1+end+1:]
	}
}

func parseMailto(raw string) (Action, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Action{}, false
	}
	to := u.Opaque
	if to == "" {
		to = u.Path
	}
	if unescaped, err := url.PathUnescape(to); err == nil {
		to = unescaped
	}
	if to == "" {
		return Action{}, false
	}
	q := u.Query()
	subject := q.Get("subject")
	if subject == "" {
		subject = "Unsubscribe"
	}
	body := q.Get("body")
	if body == "" {
		body = "Unsubscribe"
	}
	return Action{Method: MethodMailto, URL: raw, To: to, Subject: subject, Body: body}, true
}

// findBodyLink returns the first anchor whose text or href mentions unsubscribing
func findBodyLink(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	var found string
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "a") {
			var href string
			for _, a := range n.Attr {
				if strings.EqualFold(a.Key, "href") {
					href = strings.TrimSpace(a.Val)
				}
			}
			if isWebLink(href) && (mentionsUnsubscribe(href) || mentionsUnsubscribe(nodeText(n))) {
				found = href
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return found
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func mentionsUnsubscribe(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "unsubscribe") || strings.Contains(s, "opt-out") || strings.Contains(s, "opt out")
}

func isWebLink(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// Executor performs unsubscribe actions over HTTP or by sending an email
type Executor struct {
	httpClient *http.Client
	sender     mail.MessageSender
	logger     *log.Logger
}

// NewExecutor creates an executor. sender may be nil, in which case mailto
// actions fall back to manual handling.
func NewExecutor(sender mail.MessageSender) *Executor {
	return &Executor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sender:     sender,
	}
}

// SetHTTPClient replaces the client used for one-click requests
func (e *Executor) SetHTTPClient(c *http.Client) {
	if c != nil {
		e.httpClient = c
	}
}

// SetLogger sets the logger for debug output
func (e *Executor) SetLogger(logger *log.Logger) {
	e.logger = logger
}

// Unsubscribe carries out the best available action for msg
func (e *Executor) Unsubscribe(ctx context.Context, msg mail.Message) error {
	action := ParseAction(msg)
	if e.logger != nil {
		e.logger.Printf("unsubscribe: message %s via %s", msg.ID, action.Method)
	}
	switch action.Method {
	case MethodOneClick:
		return e.oneClick(ctx, action.URL)
	case MethodMailto:
		if e.sender == nil {
			return &ManualActionError{URL: action.URL}
		}
		if err := e.sender.SendMessage(ctx, action.To, action.Subject, action.Body); err != nil {
			return fmt.Errorf("failed to send unsubscribe email to %s: %w", action.To, err)
		}
		return nil
	case MethodManual:
		return &ManualActionError{URL: action.URL}
	default:
		return ErrNoUnsubscribe
	}
}

// oneClick posts the RFC 8058 body to target
func (e *Executor) oneClick(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(oneClickBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("one-click unsubscribe returned status %d", resp.StatusCode)
	}
	return nil
}
