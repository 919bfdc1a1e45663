package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/domain"
)

// Variant is one purchasable catalog entry as served by the catalog.
type Variant struct {
	ID            string `json:"uuid"`
	CritterID     string `json:"critterUuid"`
	CritterName   string `json:"critterName"`
	Name          string `json:"name"`
	FamilyID      string `json:"familyId"`
	FamilyName    string `json:"familyName"`
	FamilySpecies string `json:"familySpecies"`
	MemberType    string `json:"memberType"`
	Role          string `json:"role"`
	ImageURL      string `json:"imageUrl"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	Barcode       string `json:"barcode"`
}

func (v Variant) validate() error {
	switch {
	case v.ID == "":
		return errors.New("variant is missing uuid")
	case v.CritterID == "":
		return fmt.Errorf("variant %s is missing critterUuid", v.ID)
	case v.CritterName == "":
		return fmt.Errorf("variant %s is missing critterName", v.ID)
	}
	return nil
}

// Fields returns the display fields denormalised onto an owned item.
func (v Variant) Fields() domain.ItemFields {
	return domain.ItemFields{
		CritterID:     &v.CritterID,
		CritterName:   &v.CritterName,
		VariantName:   &v.Name,
		FamilyID:      &v.FamilyID,
		FamilyName:    &v.FamilyName,
		FamilySpecies: &v.FamilySpecies,
		MemberType:    &v.MemberType,
		Role:          &v.Role,
		ImageURL:      &v.ImageURL,
		ThumbnailURL:  &v.ThumbnailURL,
	}
}

type familyWire struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Species      string `json:"species"`
	CritterCount int    `json:"critterCount"`
}

// Families returns every family the catalog knows about.
func (c *Client) Families(ctx context.Context) ([]domain.Family, error) {
	const op = "fetch families"
	resp, err := c.Execute(ctx, &Request{URL: "/families"})
	if err != nil {
		return nil, err
	}

	var wire []familyWire
	if err := decodeJSON(op, resp.Body, &wire); err != nil {
		return nil, err
	}

	families := make([]domain.Family, 0, len(wire))
	for i, f := range wire {
		if f.ID == "" || f.Name == "" {
			return nil, apperr.Newf(apperr.KindDecoding, op, "family %d is missing id or name", i)
		}
		families = append(families, domain.Family{
			ID:           f.ID,
			Name:         f.Name,
			Slug:         f.Slug,
			Species:      f.Species,
			CritterCount: f.CritterCount,
		})
	}
	return families, nil
}

// LookupBarcode resolves a decoded barcode to its variant. Unknown codes
// surface as apperr.ErrNotFound.
func (c *Client) LookupBarcode(ctx context.Context, code string) (*Variant, error) {
	const op = "lookup barcode"
	code = strings.TrimSpace(code)
	if !isBarcode(code) {
		return nil, apperr.Newf(apperr.KindInvalidRequest, op, "invalid barcode %q", code)
	}

	resp, err := c.Execute(ctx, &Request{URL: "/variants/barcode/" + url.PathEscape(code)})
	if err != nil {
		return nil, err
	}

	var v Variant
	if err := decodeJSON(op, resp.Body, &v); err != nil {
		return nil, err
	}
	if err := v.validate(); err != nil {
		return nil, apperr.New(apperr.KindDecoding, op, err)
	}
	return &v, nil
}

// SearchVariants runs a free-text catalog search. An empty query returns no
// results without calling the catalog.
func (c *Client) SearchVariants(ctx context.Context, query string) ([]Variant, error) {
	const op = "search variants"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	resp, err := c.Execute(ctx, &Request{URL: "/search", Query: url.Values{"q": {query}}})
	if err != nil {
		return nil, err
	}

	var variants []Variant
	if err := decodeJSON(op, resp.Body, &variants); err != nil {
		return nil, err
	}
	for _, v := range variants {
		if err := v.validate(); err != nil {
			return nil, apperr.New(apperr.KindDecoding, op, err)
		}
	}
	return variants, nil
}

// Fetch downloads the raw bytes at rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Execute(ctx, &Request{
		URL:    rawURL,
		Header: http.Header{"Accept": {"image/*, */*"}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// decodeJSON decodes body into v against an exact schema. Bodies that are
// not JSON at all are invalid responses; JSON of the wrong shape is a
// decoding error.
func decodeJSON(op string, body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return apperr.New(apperr.KindInvalidResponse, op, fmt.Errorf("failed to parse response: %w", err))
		}
		return apperr.New(apperr.KindDecoding, op, fmt.Errorf("failed to decode response: %w", err))
	}
	if dec.More() {
		return apperr.Newf(apperr.KindInvalidResponse, op, "trailing data after response")
	}
	return nil
}

func isBarcode(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
