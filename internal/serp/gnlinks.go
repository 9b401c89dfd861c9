package serp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Google News RSS items link to news.google.com/rss/articles/<id> stubs, not
// to the publisher. Older ids carry the publisher URL in a base64 protobuf.
// Newer ids are resolved through the batchexecute call that the
// news.google.com article page makes itself.

const defaultGoogleNewsSite = "https://news.google.com"

var errUnresolved = errors.New("google news link could not be resolved")

// garturlContext is the fixed client context the article page sends with a
// garturlreq call.
const garturlContext = `[["X","X",["X","X"],null,null,1,1,"US:en",null,1,null,null,null,null,null,0,1],"X","X",1,[1,1,1],1,1,null,0,0,null,0]`

// articleID returns the id of a Google News article stub link.
func articleID(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || !strings.EqualFold(u.Hostname(), "news.google.com") {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "articles" || parts[i] == "read" {
			return parts[i+1], parts[i+1] != ""
		}
	}
	return "", false
}

// decodeArticleID extracts the publisher URL from an id in the older,
// self-contained format: a length-delimited field 4 holding the URL.
func decodeArticleID(id string) (string, bool) {
	id = strings.TrimRight(id, "=")
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(id); err != nil {
			return "", false
		}
	}
	for p := 0; p < len(raw)-1; p++ {
		if raw[p] != 0x22 {
			continue
		}
		n, w := binary.Uvarint(raw[p+1:])
		start := p + 1 + w
		if w <= 0 || n > uint64(len(raw)-start) {
			continue
		}
		if s := string(raw[start : start+int(n)]); isWebURL(s) {
			return s, true
		}
	}
	return "", false
}

func isWebURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// publisherURL maps an item link to the article it points at. Links that are
// not Google News stubs are returned unchanged.
func (g *GoogleNews) publisherURL(ctx context.Context, link string) (string, error) {
	id, ok := articleID(link)
	if !ok {
		return link, nil
	}
	if u, ok := decodeArticleID(id); ok {
		return u, nil
	}
	if err := g.Limiter.Wait(ctx); err != nil {
		return "", err
	}
	return g.resolveArticleID(ctx, id)
}

func (g *GoogleNews) resolveArticleID(ctx context.Context, id string) (string, error) {
	site := strings.TrimRight(g.SiteURL, "/")
	if site == "" {
		site = defaultGoogleNewsSite
	}

	sig, ts, err := g.articleSignature(ctx, site, id)
	if err != nil {
		return "", err
	}

	inner, err := json.Marshal([]any{"garturlreq", json.RawMessage(garturlContext), id, json.Number(ts), sig})
	if err != nil {
		return "", err
	}
	outer, err := json.Marshal([]any{[]any{[]any{"Fbv4je", string(inner), nil, "generic"}}})
	if err != nil {
		return "", err
	}

	form := url.Values{"f.req": {string(outer)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, site+"/_/DotsSplashUi/data/batchexecute", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")

	resp, err := g.Client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("batchexecute: status %d: %w", resp.StatusCode, errUnresolved)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return parseBatchResponse(body)
}

// articleSignature reads the signature and timestamp the article page embeds
// for its own resolution call.
func (g *GoogleNews) articleSignature(ctx context.Context, site, id string) (sig, ts string, err error) {
	resp, err := g.Client.Get(ctx, site+"/rss/articles/"+url.PathEscape(id), nil)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("article page: status %d: %w", resp.StatusCode, errUnresolved)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("article page: %w", err)
	}
	node := doc.Find("[data-n-a-sg]").First()
	sig, _ = node.Attr("data-n-a-sg")
	ts, _ = node.Attr("data-n-a-ts")
	if sig == "" || ts == "" {
		return "", "", fmt.Errorf("article page has no signature: %w", errUnresolved)
	}
	return sig, ts, nil
}

// parseBatchResponse pulls the URL out of a garturlres answer. The body
// starts with an anti-JSON prefix and may carry a length line.
func parseBatchResponse(body []byte) (string, error) {
	i := bytes.IndexByte(body, '[')
	if i < 0 {
		return "", errUnresolved
	}
	var envelope [][]any
	if err := json.NewDecoder(bytes.NewReader(body[i:])).Decode(&envelope); err != nil {
		return "", fmt.Errorf("batchexecute: %w", err)
	}
	for _, entry := range envelope {
		if len(entry) < 3 || entry[0] != "wrb.fr" {
			continue
		}
		payload, ok := entry[2].(string)
		if !ok {
			continue
		}
		var fields []any
		if err := json.Unmarshal([]byte(payload), &fields); err != nil || len(fields) < 2 {
			continue
		}
		if u, ok := fields[1].(string); ok && isWebURL(u) {
			return u, nil
		}
	}
	return "", errUnresolved
}
