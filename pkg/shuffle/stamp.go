package shuffle

import (
	"fmt"

	"github.com/infinivision/sluice/pkg/meta"
	jsoniter "github.com/json-iterator/go"
)

// numbers round-trip as json.Number so stamping never rewrites a
// document's own values
var stampJSON = jsoniter.Config{UseNumber: true}.Froze()

// StampDocument returns the document with its identity and commit
// token written under _meta. The token is a hex string, a JSON number
// would lose precision past 2^53.
func StampDocument(doc []byte, parts meta.UUIDParts, token uint64) ([]byte, error) {
	var value map[string]interface{}
	if err := stampJSON.Unmarshal(doc, &value); err != nil {
		return nil, fmt.Errorf("stamp non-object document: %+v", err)
	}

	m, _ := value["_meta"].(map[string]interface{})
	if m == nil {
		m = make(map[string]interface{})
	}
	m["uuid"] = parts.UUID().String()
	m["token"] = fmt.Sprintf("%x", token)
	value["_meta"] = m

	return stampJSON.Marshal(value)
}

// ExtractToken returns the commit token stamped under /_meta/token,
// zero when absent
func ExtractToken(doc []byte) (uint64, error) {
	any := jsoniter.Get(doc, "_meta", "token")
	if any.ValueType() != jsoniter.StringValue {
		return 0, nil
	}

	var token uint64
	if _, err := fmt.Sscanf(any.ToString(), "%x", &token); err != nil {
		return 0, fmt.Errorf("parse document token failed with %+v", err)
	}

	return token, nil
}
