package esri

// FieldTypeFromSchema maps a JSON Schema property type/format (as served by
// the backend queryables document) to an esriFieldType name.
func FieldTypeFromSchema(typ, format string) string {
	switch typ {
	case "integer":
		return "esriFieldTypeInteger"
	case "number":
		return "esriFieldTypeDouble"
	case "boolean":
		return "esriFieldTypeSmallInteger"
	case "string":
		if format == "date-time" || format == "date" {
			return "esriFieldTypeDate"
		}
		return "esriFieldTypeString"
	default:
		return "esriFieldTypeString"
	}
}

// FieldTypeFromValue infers an esriFieldType from a decoded JSON property
// value, used when the backend offers no queryables document.
func FieldTypeFromValue(v any) string {
	switch v.(type) {
	case float64:
		return "esriFieldTypeDouble"
	case bool:
		return "esriFieldTypeSmallInteger"
	default:
		return "esriFieldTypeString"
	}
}
