// Package api provides the hosting control plane's REST API: environment
// and deployment lifecycle, magic-link auth, and API key management.
//
//	@title						Hosting Control Plane API
//	@version					1.0
//	@description				Multi-tenant Docker Swarm hosting control plane
//	@BasePath					/
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
package api
