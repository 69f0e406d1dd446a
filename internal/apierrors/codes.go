// Package apierrors holds the error taxonomy of the sync engine and the
// namespaced code registry used when errors are reported over HTTP.
// Codes are namespaced ("core:not_found", "sync:fetch_failed").
package apierrors

import "net/http"

// Core codes used by the local status API.
const (
	CodeUnauthorized   = "core:unauthorized"
	CodeInvalidRequest = "core:invalid_request"
	CodeInvalidID      = "core:invalid_id"
	CodeNotFound       = "core:not_found"
	CodeInternalError  = "core:internal_error"
	CodeUnavailable    = "core:service_unavailable"
)

// Sync codes, one per taxonomy member plus event boundary rejections.
const (
	CodeAuthFailed         = "sync:auth_failed"
	CodeTransportFailed    = "sync:transport_failed"
	CodeFetchFailed        = "sync:fetch_failed"
	CodeStateInconsistency = "sync:state_inconsistency"
	CodeUnknownEvent       = "sync:unknown_event"
	CodeMalformedEvent     = "sync:malformed_event"
	CodeNoCredential       = "sync:no_credential"
)

var coreErrors = []ErrorCode{
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeInvalidRequest, Message: "Invalid request", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidID, Message: "Invalid ID format", HTTPStatus: http.StatusBadRequest},
	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},
}

var syncErrors = []ErrorCode{
	{Code: CodeAuthFailed, Message: "Credential is invalid or expired", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeTransportFailed, Message: "Realtime connection unavailable", HTTPStatus: http.StatusServiceUnavailable},
	{Code: CodeFetchFailed, Message: "Collaborator request failed", HTTPStatus: http.StatusBadGateway},
	{Code: CodeStateInconsistency, Message: "Event does not apply to local ticket state", HTTPStatus: http.StatusConflict},
	{Code: CodeUnknownEvent, Message: "Unknown realtime event", HTTPStatus: http.StatusBadRequest},
	{Code: CodeMalformedEvent, Message: "Malformed realtime event payload", HTTPStatus: http.StatusBadRequest},
	{Code: CodeNoCredential, Message: "No stored credential", HTTPStatus: http.StatusUnauthorized},
}

func init() {
	Registry.RegisterNamespace("core", coreErrors)
	Registry.RegisterNamespace("sync", syncErrors)
}
