package api

// HTTP пути relay
const (
	PathSync   = "/api/v1/sync"
	PathOwners = "/api/v1/owners"
	PathHealth = "/api/v1/health"
)

// ContentTypeProtocol тип тела бинарного протокола
const ContentTypeProtocol = "application/octet-stream"

// HealthResponse ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Version byte   `json:"protocol_version"`
}
