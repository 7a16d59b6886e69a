package geminiapi

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// ExecutableResolver locates an installed command.
type ExecutableResolver interface {
	Resolve(ctx context.Context, command string) (string, error)
}

// OAuthClient is the installed application's OAuth client identity.
type OAuthClient struct {
	ID     string
	Secret string
}

func (c OAuthClient) complete() bool {
	return c.ID != "" && c.Secret != ""
}

var (
	clientIDPattern     = regexp.MustCompile(`OAUTH_CLIENT_ID\s*=\s*['"]([^'"]+)['"]`)
	clientSecretPattern = regexp.MustCompile(`OAUTH_CLIENT_SECRET\s*=\s*['"]([^'"]+)['"]`)
)

// Patterns are relative to an ancestor of the resolved gemini executable.
var oauthModulePatterns = []string{
	"node_modules/@google/gemini-cli-core/dist/**/code_assist/oauth2.js",
	"node_modules/@google/gemini-cli/node_modules/@google/gemini-cli-core/dist/**/code_assist/oauth2.js",
	"lib/node_modules/@google/gemini-cli/node_modules/@google/gemini-cli-core/dist/**/code_assist/oauth2.js",
	"dist/**/code_assist/oauth2.js",
}

const maxAncestorDepth = 6

// discoverOAuthClient reads the OAuth constants embedded in the installed
// Gemini CLI.
func discoverOAuthClient(ctx context.Context, resolver ExecutableResolver, command string) (OAuthClient, bool) {
	if resolver == nil {
		return OAuthClient{}, false
	}
	path, err := resolver.Resolve(ctx, command)
	if err != nil {
		return OAuthClient{}, false
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	dir := filepath.Dir(path)
	for depth := 0; depth < maxAncestorDepth; depth++ {
		if client, ok := scanOAuthModule(dir); ok {
			return client, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return OAuthClient{}, false
}

func scanOAuthModule(root string) (OAuthClient, bool) {
	fsys := os.DirFS(root)
	for _, pattern := range oauthModulePatterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			if client, ok := parseOAuthModule(fsys, match); ok {
				return client, true
			}
		}
	}
	return OAuthClient{}, false
}

func parseOAuthModule(fsys fs.FS, name string) (OAuthClient, bool) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return OAuthClient{}, false
	}
	var client OAuthClient
	if match := clientIDPattern.FindSubmatch(data); match != nil {
		client.ID = string(match[1])
	}
	if match := clientSecretPattern.FindSubmatch(data); match != nil {
		client.Secret = string(match[1])
	}
	return client, client.complete()
}
