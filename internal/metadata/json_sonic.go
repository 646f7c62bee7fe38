//go:build sonic

package metadata

import (
	"github.com/bytedance/sonic"
)

func jsonMarshalIndent(v any) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(v, "", "  ")
}

var jsonUnmarshal = sonic.ConfigStd.Unmarshal
