// Package docs holds the generated OpenAPI document served by swaggerkit under the swag build tag
package docs

//go:generate go tool swag init --v3.1 -g cmd/curator-api/main.go -d ../../../../ -o . --outputTypes go,json --parseInternal
