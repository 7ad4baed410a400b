// Package schemavalidation holds tests that validate the JSON schema
// documents under docs/schema against their fixtures in docs/spec/fixtures.
package schemavalidation
