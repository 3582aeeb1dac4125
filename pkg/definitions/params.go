package definitions

import (
	"encoding/json"
)

// ParameterSpec describes one procedure parameter of a report
// definition. The stored JSON accepts two forms: a bare string (just
// the parameter name) and an object carrying the name plus an optional
// values query. ValuesQuery is executed verbatim against the runtime
// database to enumerate selectable values, so definition authoring is
// a privileged operation.
type ParameterSpec struct {
	Name        string
	ValuesQuery string
}

// parameterObject is the structured wire form. Older definitions used
// "param" or "parameter" as the name key.
type parameterObject struct {
	Name        string `json:"name,omitempty"`
	Param       string `json:"param,omitempty"`
	Parameter   string `json:"parameter,omitempty"`
	ValuesQuery string `json:"values_query,omitempty"`
}

// UnmarshalJSON accepts either a bare string or a structured object.
func (p *ParameterSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*p = ParameterSpec{Name: name}

		return nil
	}

	var obj parameterObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	p.Name = obj.Name
	if p.Name == "" {
		p.Name = obj.Param
	}

	if p.Name == "" {
		p.Name = obj.Parameter
	}

	p.ValuesQuery = obj.ValuesQuery

	return nil
}

// MarshalJSON re-emits the compact bare-string form for parameters
// without a values query.
func (p ParameterSpec) MarshalJSON() ([]byte, error) {
	if p.ValuesQuery == "" {
		return json.Marshal(p.Name)
	}

	return json.Marshal(parameterObject{
		Name:        p.Name,
		ValuesQuery: p.ValuesQuery,
	})
}

// ParseParameterList decodes a stored parameter JSON column. Malformed
// JSON degrades to an empty list rather than failing the read; order is
// preserved exactly as stored.
func ParseParameterList(raw string) []ParameterSpec {
	if raw == "" {
		return nil
	}

	var params []ParameterSpec
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil
	}

	return params
}

// EncodeParameterList serializes a parameter list for storage.
func EncodeParameterList(params []ParameterSpec) (string, error) {
	if params == nil {
		params = []ParameterSpec{}
	}

	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// ParameterNames returns the names in stored order.
func ParameterNames(params []ParameterSpec) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}

	return names
}
