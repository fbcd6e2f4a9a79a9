// Package integration contains the ERP Integration bounded context.
// This context describes what the NFSe pipeline reads from and writes to the
// external ERP: sales orders, contacts, products and service invoices.
//
// Key concepts:
//   - ERPGateway: Port interface for the ERP REST API (orders, contacts, products, NFSe)
//   - Credential: the single OAuth2 client/token set of a deployment
//   - CredentialStore / NonceStore: persistence ports for tokens and CSRF nonces
//   - SalesOrderSituation / NfseSituation: the two ERP situation vocabularies,
//     kept as independent lookup tables
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
