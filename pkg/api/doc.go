// Package api defines the shared domain types of the saga engine:
// workflow and step identifiers, status enums, the opaque parameter
// payload carried between steps, the handler contract, and the broker
// notice format.
package api
