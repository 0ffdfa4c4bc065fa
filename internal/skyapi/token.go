package skyapi

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// tokenFile is the JSON document written by the token refresh job.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
}

// LoadTokenFile reads a prepared access token. Acquiring or refreshing the
// token is the job of whatever writes the file.
func LoadTokenFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadTokenFile: reading %s: %w", path, err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("LoadTokenFile: decoding %s: %w", path, err)
	}
	if strings.TrimSpace(tf.AccessToken) == "" {
		return nil, fmt.Errorf("LoadTokenFile: %s has no access_token", path)
	}
	return &oauth2.Token{
		AccessToken:  tf.AccessToken,
		TokenType:    tf.TokenType,
		RefreshToken: tf.RefreshToken,
	}, nil
}

// StaticTokenSource loads the token file once and serves it for the whole run.
func StaticTokenSource(path string) (oauth2.TokenSource, error) {
	tok, err := LoadTokenFile(path)
	if err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(tok), nil
}
