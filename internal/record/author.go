package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Author represents one byline entry.
type Author struct {
	Given   string   `json:"given,omitempty"`
	Family  string   `json:"family,omitempty"`
	Display string   `json:"display,omitempty"`
	Suffix  string   `json:"suffix,omitempty"`
	Degrees []string `json:"degrees,omitempty"`
	Group   bool     `json:"group,omitempty"` // Consortium or study group
	ORCID   string   `json:"orcid,omitempty"`
}

// UnmarshalJSON accepts either a structured object or a free-text name,
// which becomes a display-only author.
func (a *Author) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Author{Display: strings.TrimSpace(s)}
		return nil
	}
	type plain Author
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("author: %w", err)
	}
	*a = Author(p)
	return nil
}

// IsStructured reports whether the author has a parsed family name or is a
// group author.
func (a Author) IsStructured() bool {
	return strings.TrimSpace(a.Family) != "" || (a.Group && a.Display != "")
}

// IsEmpty reports whether the author carries no name at all.
func (a Author) IsEmpty() bool {
	return strings.TrimSpace(a.Family) == "" && strings.TrimSpace(a.Given) == "" && strings.TrimSpace(a.Display) == ""
}

// Name returns the best available display form.
func (a Author) Name() string {
	if a.Display != "" {
		return a.Display
	}
	return strings.TrimSpace(a.Given + " " + a.Family)
}

// AuthorList is an ordered byline. A bare JSON string is read as a single
// display-only author so the hardener can split it.
type AuthorList []Author

func (l *AuthorList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			*l = nil
			return nil
		}
		*l = AuthorList{{Display: strings.TrimSpace(s)}}
		return nil
	}
	var authors []Author
	if err := json.Unmarshal(data, &authors); err != nil {
		return err
	}
	*l = authors
	return nil
}

// FlexibleString can unmarshal from either string or number JSON values.
// Values made only of digits marshal back as JSON numbers.
type FlexibleString string

func (f *FlexibleString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleString(n.String())
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into FlexibleString", string(data))
}

func (f FlexibleString) MarshalJSON() ([]byte, error) {
	s := string(f)
	if isPlainInt(s) {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func (f FlexibleString) String() string {
	return string(f)
}

// Int returns the value as an integer, or 0 when it is not one.
func (f FlexibleString) Int() int {
	n, err := strconv.Atoi(strings.TrimSpace(string(f)))
	if err != nil {
		return 0
	}
	return n
}

func isPlainInt(s string) bool {
	if s == "" || len(s) > 9 || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
