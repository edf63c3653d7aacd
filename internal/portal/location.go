package portal

import (
	"context"
	"fmt"
)

type setLocationRequest struct {
	AuthToken  string `json:"authToken"`
	ContactID  int    `json:"cid"`
	LocationID int    `json:"locID"`
	RequestID  *int   `json:"reqID"`

	// Fixed values the portal expects from mobile clients.
	C     float64 `json:"c"`
	SD    string  `json:"sd"`
	SDCID int     `json:"sdcid"`
}

// SetLocation signs the session's contact in to locationID. requestID is
// optional. It reports whether the portal accepted the change.
func (c *Client) SetLocation(ctx context.Context, sess Session, locationID int, requestID *int) (bool, error) {
	target, err := sess.endpoint("SetBoarderLocation")
	if err != nil {
		return false, err
	}

	req := setLocationRequest{
		AuthToken:  sess.Token,
		ContactID:  sess.ContactID,
		LocationID: locationID,
		RequestID:  requestID,
		C:          -1,
	}

	var resp struct {
		Done *int `json:"done"`
	}
	if err := c.postJSON(ctx, target, req, &resp); err != nil {
		return false, fmt.Errorf("failed to set location: %w", err)
	}
	if resp.Done == nil {
		return false, fmt.Errorf("failed to set location: %w: missing done", ErrDecode)
	}
	return *resp.Done == 1, nil
}
