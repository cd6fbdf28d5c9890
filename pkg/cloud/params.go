package cloud

import (
	"net/url"
	"strings"
)

// Param is one request parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list. Request signatures are computed over
// parameters in insertion order, so a Go map cannot carry them: re-sorting
// produces signatures the server rejects.
type Params []Param

// NewParams returns an empty parameter list.
func NewParams() Params {
	return Params{}
}

// With appends a parameter and returns the extended list.
func (p Params) With(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Get returns the first value stored under key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Encode renders the list as an application/x-www-form-urlencoded body,
// preserving insertion order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}
