package skyapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Getter fetches one API document. *Client implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*Response, error)
}

// Donor is the display form of a constituent.
type Donor struct {
	ID         string
	Name       string
	Individual bool
}

// Resolver turns constituent and campaign ids into display names. Each id
// is fetched at most once per Resolver.
type Resolver struct {
	api       Getter
	baseURL   string
	donors    map[string]Donor
	campaigns map[string]string
}

// NewResolver creates a Resolver issuing lookups against baseURL.
func NewResolver(api Getter, baseURL string) *Resolver {
	return &Resolver{
		api:       api,
		baseURL:   baseURL,
		donors:    make(map[string]Donor),
		campaigns: make(map[string]string),
	}
}

// ResolveDonor returns the donor's display name: "first last" for
// individuals and the organisation name otherwise.
func (r *Resolver) ResolveDonor(ctx context.Context, id string) (Donor, error) {
	if d, ok := r.donors[id]; ok {
		return d, nil
	}
	if strings.TrimSpace(id) == "" {
		return Donor{}, errors.New("ResolveDonor: empty constituent id")
	}

	resp, err := r.api.Get(ctx, ConstituentURL(r.baseURL, id), nil)
	if err != nil {
		return Donor{}, fmt.Errorf("ResolveDonor: fetching constituent %s: %w", id, err)
	}
	doc, ok := resp.Document.(map[string]interface{})
	if !ok {
		return Donor{}, fmt.Errorf("ResolveDonor: constituent %s: document is %T, want object", id, resp.Document)
	}

	d := Donor{ID: id, Individual: stringField(doc, "type") == "Individual"}
	if d.Individual {
		d.Name = strings.TrimSpace(stringField(doc, "first") + " " + stringField(doc, "last"))
	}
	if d.Name == "" {
		d.Name = stringField(doc, "name")
	}
	if d.Name == "" {
		return Donor{}, fmt.Errorf("ResolveDonor: constituent %s has no name", id)
	}

	r.donors[id] = d
	return d, nil
}

// ResolveCampaign returns the campaign description.
func (r *Resolver) ResolveCampaign(ctx context.Context, id string) (string, error) {
	if name, ok := r.campaigns[id]; ok {
		return name, nil
	}
	if strings.TrimSpace(id) == "" {
		return "", errors.New("ResolveCampaign: empty campaign id")
	}

	resp, err := r.api.Get(ctx, CampaignURL(r.baseURL, id), nil)
	if err != nil {
		return "", fmt.Errorf("ResolveCampaign: fetching campaign %s: %w", id, err)
	}
	doc, ok := resp.Document.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("ResolveCampaign: campaign %s: document is %T, want object", id, resp.Document)
	}
	name := stringField(doc, "description")
	if name == "" {
		return "", fmt.Errorf("ResolveCampaign: campaign %s has no description", id)
	}

	r.campaigns[id] = name
	return name, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
