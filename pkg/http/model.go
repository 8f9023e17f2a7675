package http

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationResponse is the 400 body listing every rejected field.
type ValidationResponse struct {
	Status  int               `json:"status" example:"400"`
	Message string            `json:"message" example:"Bad Request"`
	Data    []ValidationError `json:"data,omitempty"`
}

// ValidationError describes one rejected field, named as the client sent it.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"pemasukan"`
	Message string                 `json:"message,omitempty" example:"pemasukan is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
