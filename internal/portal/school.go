package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SchoolConfig is the per-school configuration returned by LoadRes.
type SchoolConfig struct {
	Reach     ReachConfig `json:"reach"`
	Locations []Location  `json:"loc"`
	Assets    Assets      `json:"assets"`
}

// ReachConfig identifies the school and its realtime channel.
type ReachConfig struct {
	Acronym        string `json:"acro,omitempty"`
	SchoolName     string `json:"schoolName"`
	PortalKey      string `json:"portalKey"`
	WebsocketJWT   string `json:"wssJWT"`
	StorageBaseURL string `json:"storageBaseURL"`
}

// Assets are branding images relative to the storage base.
type Assets struct {
	LoginBackground string `json:"loginBkg,omitempty"`
	SchoolEmblem    string `json:"schoolEmblem,omitempty"`
}

// Location is a place a boarder can sign in to.
type Location struct {
	ID      int      `json:"i"`
	Name    string   `json:"l"`
	Color   HexColor `json:"c"`
	Visible Flag     `json:"vis"`
}

// Location returns the location with id, if configured.
func (s *SchoolConfig) Location(id int) (Location, bool) {
	for _, loc := range s.Locations {
		if loc.ID == id {
			return loc, true
		}
	}
	return Location{}, false
}

// Flag is a boolean encoded by the portal as the integer 0 or 1.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flag must be an integer: %w", err)
	}
	*f = n == 1
	return nil
}

// HexColor is an RGB color encoded as "#RRGGBB".
type HexColor struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

// ParseHexColor parses "#RRGGBB".
func ParseHexColor(s string) (HexColor, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || hex == "" {
		return HexColor{}, fmt.Errorf("invalid hex color %q", s)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return HexColor{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return HexColor{
		Red:   uint8(n >> 16 & 0xff),
		Green: uint8(n >> 8 & 0xff),
		Blue:  uint8(n & 0xff),
	}, nil
}

func (c HexColor) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.Red, c.Green, c.Blue)
}

func (c HexColor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *HexColor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex color must be a string: %w", err)
	}
	parsed, err := ParseHexColor(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type authRequest struct {
	AuthToken string `json:"authToken"`
}

// SchoolConfig fetches the school configuration for the session's portal.
func (c *Client) SchoolConfig(ctx context.Context, sess Session) (*SchoolConfig, error) {
	target, err := sess.endpoint("LoadRes")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Config *SchoolConfig `json:"config"`
	}
	if err := c.postJSON(ctx, target, authRequest{AuthToken: sess.Token}, &resp); err != nil {
		return nil, fmt.Errorf("failed to load school config: %w", err)
	}
	if resp.Config == nil {
		return nil, fmt.Errorf("failed to load school config: %w: missing config", ErrDecode)
	}
	return resp.Config, nil
}
