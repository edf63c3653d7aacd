package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// School is a school directory entry.
type School struct {
	ID          int    `json:"c"`
	Name        string `json:"l"`
	ReachPrefix string `json:"a"`
	ReachDomain string `json:"b"`
	Country     string `json:"cou"`
	PortalKey   string `json:"pk"`
}

// Search looks up schools by name. Queries shorter than the configured
// minimum return no results without contacting the directory.
func (c *Client) Search(ctx context.Context, query string) ([]School, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < c.minQueryLength {
		return nil, nil
	}

	key := strings.ToLower(query)
	if c.searchCache != nil {
		if schools, ok := c.searchCache.Get(key); ok {
			return slices.Clone(schools), nil
		}
	}

	body, err := c.postForm(ctx, c.searchURL, map[string]string{"kw": query})
	if err != nil {
		return nil, fmt.Errorf("failed to search schools: %w", err)
	}

	var resp struct {
		Results []School `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to search schools: %w: %w", ErrDecode, err)
	}

	if c.searchCache != nil {
		c.searchCache.Add(key, slices.Clone(resp.Results))
	}
	return resp.Results, nil
}
