// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Key Principles:
// 1. Domain entities should be free of GORM tags and infrastructure concerns
// 2. Persistence models contain all GORM annotations and table mappings
// 3. Mappers convert between domain entities and persistence models
// 4. Secrets are sealed by the repository before they reach a model
//
// Structure:
// - rps_record.go: the NFSe queue (one row per sales order)
// - credential.go: the ERP OAuth client and token set
package models
