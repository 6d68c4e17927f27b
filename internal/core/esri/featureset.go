package esri

// FeatureSet is the MapServer query response shape.
type FeatureSet struct {
	ObjectIDFieldName     string           `json:"objectIdFieldName"`
	GeometryType          string           `json:"geometryType"`
	SpatialReference      SpatialReference `json:"spatialReference"`
	Fields                []FieldInfo      `json:"fields"`
	Features              []Feature        `json:"features"`
	ExceededTransferLimit bool             `json:"exceededTransferLimit,omitempty"`
}

type FieldInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   any            `json:"geometry,omitempty"`
}

// IdentifyResult is one entry of the MapServer identify response.
type IdentifyResult struct {
	LayerID          int            `json:"layerId"`
	LayerName        string         `json:"layerName"`
	Value            string         `json:"value"`
	DisplayFieldName string         `json:"displayFieldName"`
	Attributes       map[string]any `json:"attributes"`
	GeometryType     string         `json:"geometryType,omitempty"`
	Geometry         any            `json:"geometry,omitempty"`
}
