package validation

// Common validation rules and request structs

// GeocodeRequest represents a forward geocoding request
type GeocodeRequest struct {
	Query      string `json:"query" form:"query" validate:"required,min=2,max=500"`
	ProviderID string `json:"provider_id" form:"provider_id" validate:"omitempty,provider_id"`
}

// ReverseGeocodeRequest represents a reverse geocoding request
type ReverseGeocodeRequest struct {
	Latitude   float64 `json:"latitude" form:"latitude" validate:"latitude"`
	Longitude  float64 `json:"longitude" form:"longitude" validate:"longitude"`
	ProviderID string  `json:"provider_id" form:"provider_id" validate:"omitempty,provider_id"`
}

// TileRequest represents a tile URL resolution request
type TileRequest struct {
	Zoom       int    `form:"z" validate:"zoom"`
	X          int    `form:"x" validate:"gte=0"`
	Y          int    `form:"y" validate:"gte=0"`
	Style      string `form:"style" validate:"omitempty,min=1,max=64"`
	ProviderID string `form:"provider_id" validate:"omitempty,provider_id"`
}

// SetCredentialRequest represents a credential rotation request
type SetCredentialRequest struct {
	ProviderID string `json:"provider_id" validate:"required,provider_id"`
	Secret     string `json:"secret" validate:"max=512"`
}

// SetStrategyRequest represents a strategy switch request
type SetStrategyRequest struct {
	Strategy string `json:"strategy" validate:"required,strategy"`
}

// AddProviderRequest represents a runtime provider registration request
type AddProviderRequest struct {
	ID                 string   `json:"id" validate:"required,provider_id"`
	DisplayName        string   `json:"display_name" validate:"required,min=2,max=100"`
	RequiresCredential bool     `json:"requires_credential"`
	TileURLTemplate    string   `json:"tile_url_template" validate:"required,min=8,max=500"`
	GeocodeCapability  bool     `json:"geocode_capability"`
	GeocodeBaseURL     string   `json:"geocode_base_url" validate:"omitempty,url,max=500"`
	Styles             []string `json:"styles" validate:"omitempty,dive,min=1,max=64"`
	Tiers              []string `json:"tiers" validate:"omitempty,dive,tier"`
}

// OverlayRequest represents a disease overlay request
type OverlayRequest struct {
	DiseaseCode string `form:"disease" validate:"required,min=2,max=64"`
	Resolution  int    `form:"resolution" validate:"omitempty,gte=0,lte=15"`
}
