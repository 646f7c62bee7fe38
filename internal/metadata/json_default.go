//go:build !sonic

package metadata

import (
	"github.com/goccy/go-json"
)

func jsonMarshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

var jsonUnmarshal = json.Unmarshal
