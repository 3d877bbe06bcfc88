package featurelayer

// SpatialReference identifies the CRS of a geometry by well-known id.
type SpatialReference struct {
	WKID int `json:"wkid"`
}

// Geometry is a point geometry in the service's JSON format.
type Geometry struct {
	X                float64          `json:"x"`
	Y                float64          `json:"y"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// Feature is one row of a hosted feature layer.
type Feature struct {
	Geometry   *Geometry      `json:"geometry,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// editResult is the per-feature outcome of an applyEdits call.
type editResult struct {
	ObjectID int64 `json:"objectId"`
	Success  bool  `json:"success"`
}

// applyEditsResponse is the service response for applyEdits.
type applyEditsResponse struct {
	AddResults    []editResult  `json:"addResults"`
	UpdateResults []editResult  `json:"updateResults"`
	Error         *serviceError `json:"error"`
}

// queryResponse is the service response for a layer query.
type queryResponse struct {
	Features              []Feature     `json:"features"`
	ExceededTransferLimit bool          `json:"exceededTransferLimit"`
	Error                 *serviceError `json:"error"`
}

// tokenResponse is the response from generateToken.
type tokenResponse struct {
	Token   string        `json:"token"`
	Expires int64         `json:"expires"` // epoch milliseconds
	Error   *serviceError `json:"error"`
}

// serviceError is the error object the service embeds in 200 responses.
type serviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
