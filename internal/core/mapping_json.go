package core

import "github.com/bytedance/sonic"

// MarshalJSON writes bare values as a plain string.
func (v MappingValue) MarshalJSON() ([]byte, error) {
	if v.IsBare() {
		return sonic.Marshal(v.Project)
	}
	type plain MappingValue
	return sonic.Marshal(plain(v))
}

// UnmarshalJSON accepts either a project name or an object.
func (v *MappingValue) UnmarshalJSON(data []byte) error {
	var name string
	if err := sonic.Unmarshal(data, &name); err == nil {
		*v = MappingValue{Project: name}
		return nil
	}
	type plain MappingValue
	var p plain
	if err := sonic.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = MappingValue(p)
	return nil
}
