package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
)

// ErrMissingWebsite is returned when the parameter file has no crawl entry point.
var ErrMissingWebsite = errors.New("params: website is not set")

// Params are the site-specific crawl parameters.
// Header and cookie names are kept exactly as written in the file.
type Params struct {
	Website string            `json:"website"`
	Headers map[string]string `json:"headers"`
	Cookies map[string]string `json:"cookies"`
}

// LoadParams reads the JSON parameter file at path.
func LoadParams(path string) (Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("failed to read params file %s: %w", path, err)
	}

	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return Params{}, fmt.Errorf("failed to decode params file %s: %w", path, err)
	}

	if p.Website == "" {
		return Params{}, ErrMissingWebsite
	}
	if u, err := url.Parse(p.Website); err != nil || u.Scheme == "" || u.Host == "" {
		return Params{}, fmt.Errorf("params: website %q is not an absolute URL", p.Website)
	}
	if p.Headers == nil {
		p.Headers = map[string]string{}
	}
	if p.Cookies == nil {
		p.Cookies = map[string]string{}
	}
	return p, nil
}
