package device

// Static schema tables. Service, property and action identifiers come from
// the standardized device-control schema published per model; they are
// supplied to this package as data, never computed.

// PropertySpec names one addressable attribute of a model.
type PropertySpec struct {
	Name     string
	SIID     int
	PIID     int
	Writable bool
}

// Ref returns the wire address of the property.
func (p PropertySpec) Ref() PropertyRef {
	return PropertyRef{SIID: p.SIID, PIID: p.PIID}
}

// ActionSpec names one invocable operation of a model.
type ActionSpec struct {
	Name string
	SIID int
	AIID int
}

// Spec is the schema table for one device model.
type Spec struct {
	Model      string
	Properties []PropertySpec
	Actions    []ActionSpec
}

// Property looks up a property by name.
func (s *Spec) Property(name string) (PropertySpec, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertySpec{}, false
}

// Action looks up an action by name.
func (s *Spec) Action(name string) (ActionSpec, bool) {
	for _, a := range s.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionSpec{}, false
}

// Refs returns the wire addresses of every property in the table, in table
// order. Useful for reading a device's full state in one batched call.
func (s *Spec) Refs() []PropertyRef {
	refs := make([]PropertyRef, 0, len(s.Properties))
	for _, p := range s.Properties {
		refs = append(refs, p.Ref())
	}
	return refs
}
