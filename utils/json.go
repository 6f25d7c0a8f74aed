package utils

import (
	"bytes"
	"encoding/json"
)

// DecodeJSONNumbers unmarshals keeping numbers as json.Number so integer
// amounts never pass through float64.
func DecodeJSONNumbers(data []byte, output any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(output)
}
