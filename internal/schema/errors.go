package schema

import "fmt"

// ResolutionError reports a member path that does not name a declared
// member, or names one that cannot be used where it appears.
type ResolutionError struct {
	Type   string
	Path   string
	Reason string
}

func (e *ResolutionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("schema: %s has no member %q", e.Type, e.Path)
	}
	return fmt.Sprintf("schema: %s member %q: %s", e.Type, e.Path, e.Reason)
}

// DescriptorError reports an invalid static descriptor.
type DescriptorError struct {
	Type   string
	Field  string
	Reason string
}

func (e *DescriptorError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: invalid descriptor for %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("schema: invalid descriptor for %s.%s: %s", e.Type, e.Field, e.Reason)
}
