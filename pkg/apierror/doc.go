// Package apierror is the boundary error taxonomy. Every failure that reaches
// a client is one of five kinds:
//
//	DependencyMissing    200  "Dependency missing for the operation"
//	InvalidOperation     400  "Invalid operation: <detail>"
//	RequestFailed        500  "Failed to process request: <detail>"
//	DatabaseError        500  "Database Error <detail>"
//	InternalServerError  500  "Server Error <detail>"
//
// Classify maps storage, broadcast and operation errors onto a kind; Write
// renders it as text/plain.
package apierror
