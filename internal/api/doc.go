// Package api exposes the query service over HTTP: submit a question
// (synchronously or in the background), fetch a stored result, list and
// aggregate past queries, plus health and Prometheus metrics endpoints.
package api
