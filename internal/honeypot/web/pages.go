package web

import (
	"fmt"
	"strings"

	"github.com/decoynet/decoyd/internal/classify"
)

// PageProvider is the read-only fake-service table: prebuilt HTTP responses
// keyed by exact path. Lookup falls back to the longest configured prefix
// (other than "/"), then a 404.
type PageProvider struct {
	pages    map[string][]byte
	notFound []byte
}

// NewPageProvider builds the default table impersonating an Apache host with
// a handful of probe-worthy surfaces.
func NewPageProvider() *PageProvider {
	return &PageProvider{
		pages: map[string][]byte{
			"/":           BuildResponse(200, "OK", indexPage),
			"/health":     BuildResponse(200, "OK", `{"status": "healthy"}`),
			"/ready":      BuildResponse(200, "OK", `{"ready": true}`),
			"/robots.txt": BuildResponse(200, "OK", "User-agent: *\nDisallow: /admin\nDisallow: /api"),
			"/admin":      BuildResponse(401, "Unauthorized", loginPage),
			"/wp-admin":   BuildResponse(200, "OK", wordpressAdminPage),
			"/phpmyadmin": BuildResponse(200, "OK", phpMyAdminPage),
			"/api":        BuildResponse(200, "OK", `{"version": "1.0", "endpoints": ["/users", "/products"]}`),
		},
		notFound: BuildResponse(404, "Not Found", "<html><body><h1>404 Not Found</h1></body></html>"),
	}
}

// Response returns the canned bytes for a request target. The query string
// is ignored for lookup purposes.
func (p *PageProvider) Response(target string) []byte {
	path := classify.PathOnly(target)

	if resp, ok := p.pages[path]; ok {
		return resp
	}

	best := ""
	for prefix := range p.pages {
		if prefix != "/" && strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return p.pages[best]
	}

	return p.notFound
}

// BuildResponse renders a complete HTTP/1.1 response. The content type is
// application/json when the body looks like a JSON object, text/html
// otherwise, matching what a lazily-configured Apache site would serve.
func BuildResponse(statusCode int, statusText, body string) []byte {
	contentType := "text/html"
	if strings.HasPrefix(body, "{") {
		contentType = "application/json"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", statusCode, statusText)
	fmt.Fprintf(&sb, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	sb.WriteString("Server: Apache/2.4.41 (Ubuntu)\r\n")
	sb.WriteString("Connection: close\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}

const indexPage = `<!DOCTYPE html>
<html><head><title>Welcome</title></head>
<body><h1>Welcome to our service</h1><p>Please log in to continue.</p></body></html>`

const loginPage = `<!DOCTYPE html>
<html><head><title>Admin Login</title></head>
<body><h1>Admin Login</h1>
<form method="post"><input name="user" placeholder="Username"><input name="pass" type="password"><button>Login</button></form></body></html>`

const wordpressAdminPage = `<!DOCTYPE html>
<html><head><title>WordPress &rsaquo; Log In</title></head>
<body class="login"><div id="login">
<h1><a href="https://wordpress.org/">WordPress</a></h1>
<form method="post"><p><label>Username<input name="log" type="text"></label></p>
<p><label>Password<input name="pwd" type="password"></label></p>
<p><input type="submit" value="Log In"></p></form></div></body></html>`

const phpMyAdminPage = `<!DOCTYPE html>
<html><head><title>phpMyAdmin</title></head>
<body><div id="pma_header"><h1>phpMyAdmin</h1></div>
<form method="post"><input name="pma_username" placeholder="Username">
<input name="pma_password" type="password"><button>Go</button></form></body></html>`
