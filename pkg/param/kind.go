package param

// Kind identifies the value kind of an attribute. The set is closed:
// control selection, validation, and codecs all key off these tags
// rather than inspecting value types at runtime.
type Kind uint8

const (
	Number Kind = iota + 1
	Integer
	String
	Boolean
	Selector
	MultiSelector
	Date
	Range
	Mapping
	Action
	FileRef
	Nested
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Number:
		return "Number"
	case Integer:
		return "Integer"
	case String:
		return "String"
	case Boolean:
		return "Boolean"
	case Selector:
		return "Selector"
	case MultiSelector:
		return "MultiSelector"
	case Date:
		return "Date"
	case Range:
		return "Range"
	case Mapping:
		return "Mapping"
	case Action:
		return "Action"
	case FileRef:
		return "FileRef"
	case Nested:
		return "Nested"
	default:
		return "Unknown"
	}
}
