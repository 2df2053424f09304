package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DetailedDocument is the structured form of a document reference.
type DetailedDocument struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName,omitempty"`
	ProductSpecs string `json:"productSpecs,omitempty"`
}

// DocumentRef is either a bare identifier or a DetailedDocument. The two shapes are kept
// apart on purpose: only the structured form carries name and specs, and callers decide
// what to render by checking Detailed.
type DocumentRef struct {
	id       string
	detailed *DetailedDocument
}

// Identifier builds a bare identifier reference.
func Identifier(id string) DocumentRef {
	return DocumentRef{id: id}
}

// Detailed builds a structured reference.
func Detailed(doc DetailedDocument) DocumentRef {
	return DocumentRef{detailed: &doc}
}

// ID returns the product identifier for either shape.
func (r DocumentRef) ID() string {
	if r.detailed != nil {
		return r.detailed.ProductID
	}
	return r.id
}

// Detailed returns the structured form, if this reference carries one.
func (r DocumentRef) Detailed() (DetailedDocument, bool) {
	if r.detailed == nil {
		return DetailedDocument{}, false
	}
	return *r.detailed, true
}

func (r DocumentRef) IsDetailed() bool {
	return r.detailed != nil
}

func (r DocumentRef) String() string {
	if r.detailed != nil && r.detailed.ProductName != "" {
		return fmt.Sprintf("%s (%s)", r.detailed.ProductName, r.detailed.ProductID)
	}
	return r.ID()
}

func (r DocumentRef) MarshalJSON() ([]byte, error) {
	if r.detailed != nil {
		return json.Marshal(r.detailed)
	}
	return json.Marshal(r.id)
}

func (r *DocumentRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("document reference is null")
	}

	switch data[0] {
	case '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Identifier(id)
		return nil
	case '{':
		var raw struct {
			ProductID    json.RawMessage `json:"productId"`
			ProductName  string          `json:"productName"`
			ProductSpecs string          `json:"productSpecs"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		id, err := scalarString(raw.ProductID)
		if err != nil {
			return fmt.Errorf("invalid productId: %w", err)
		}
		*r = Detailed(DetailedDocument{
			ProductID:    id,
			ProductName:  raw.ProductName,
			ProductSpecs: raw.ProductSpecs,
		})
		return nil
	default:
		// Numeric identifiers are still bare identifiers.
		id, err := scalarString(data)
		if err != nil {
			return fmt.Errorf("invalid document reference: %w", err)
		}
		*r = Identifier(id)
		return nil
	}
}

func scalarString(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}

	if data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", err
	}
	return strings.TrimSpace(n.String()), nil
}
