package bigquery

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// isAlreadyExists reports whether err is the API's 409 Conflict for a resource that exists.
func isAlreadyExists(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// isNotFound reports whether err is the API's 404 for a missing resource.
func isNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func hasStatus(err error, code int) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == code
	}
	return false
}
