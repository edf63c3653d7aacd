package portal

import (
	"context"
	"fmt"
)

// Contact is the signed-in user's contact record.
type Contact struct {
	ContactID          int      `json:"contactID"`
	UserDefinedFieldID int      `json:"userDefinedFieldID"`
	LocationID         int      `json:"locationID"`
	FirstName          string   `json:"firstName"`
	LastName           string   `json:"lastName"`
	PreferredName      string   `json:"preferredName,omitempty"`
	HomePhone          string   `json:"homePhone,omitempty"`
	WorkPhone          string   `json:"workPhone,omitempty"`
	MobilePhone        string   `json:"mobilePhone,omitempty"`
	Email              string   `json:"email,omitempty"`
	ProfilePictureID   string   `json:"profilePictureID,omitempty"`
	Address            *Address `json:"address,omitempty"`
}

// Address is a postal address. It is only set when every required part is known.
type Address struct {
	Line1      string `json:"addressLine1"`
	Line2      string `json:"addressLine2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// gacContact is the GAC wire format.
type gacContact struct {
	ContactID          int    `json:"cid"`
	UserDefinedFieldID int    `json:"uid"`
	LocationID         int    `json:"lid"`
	FirstName          string `json:"f"`
	LastName           string `json:"l"`
	PreferredName      string `json:"pn"`
	HomePhone          string `json:"hp"`
	WorkPhone          string `json:"wp"`
	MobilePhone        string `json:"m"`
	Email              string `json:"e"`
	ProfilePictureID   string `json:"ph"`
	AddressLine1       string `json:"a1"`
	AddressLine2       string `json:"a2"`
	City               string `json:"su"`
	State              string `json:"st"`
	PostalCode         string `json:"pc"`
	Country            string `json:"cou"`
}

// blank reports whether the portal meant "no value".
func blank(s string) bool {
	return s == "" || s == "N/A"
}

func orEmpty(s string) string {
	if blank(s) {
		return ""
	}
	return s
}

func (g gacContact) contact() Contact {
	c := Contact{
		ContactID:          g.ContactID,
		UserDefinedFieldID: g.UserDefinedFieldID,
		LocationID:         g.LocationID,
		FirstName:          g.FirstName,
		LastName:           g.LastName,
		PreferredName:      orEmpty(g.PreferredName),
		HomePhone:          orEmpty(g.HomePhone),
		WorkPhone:          orEmpty(g.WorkPhone),
		MobilePhone:        orEmpty(g.MobilePhone),
		Email:              orEmpty(g.Email),
		ProfilePictureID:   orEmpty(g.ProfilePictureID),
	}

	if !blank(g.AddressLine1) && !blank(g.City) && !blank(g.State) && !blank(g.PostalCode) && !blank(g.Country) {
		c.Address = &Address{
			Line1:      g.AddressLine1,
			Line2:      orEmpty(g.AddressLine2),
			City:       g.City,
			State:      g.State,
			PostalCode: g.PostalCode,
			Country:    g.Country,
		}
	}
	return c
}

// Contacts lists the contacts visible to the session.
func (c *Client) Contacts(ctx context.Context, sess Session) ([]Contact, error) {
	target, err := sess.endpoint("GAC")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Contacts []gacContact `json:"c"`
	}
	if err := c.postJSON(ctx, target, authRequest{AuthToken: sess.Token}, &resp); err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	contacts := make([]Contact, 0, len(resp.Contacts))
	for _, g := range resp.Contacts {
		contacts = append(contacts, g.contact())
	}
	return contacts, nil
}

// UserContact returns the contact belonging to the signed-in user.
func (c *Client) UserContact(ctx context.Context, sess Session) (*Contact, error) {
	contacts, err := c.Contacts(ctx, sess)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if contacts[i].ContactID == sess.ContactID {
			return &contacts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: contact %d not returned", ErrDecode, sess.ContactID)
}
