package dtos

type HealthCheckResponse struct {
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
}
