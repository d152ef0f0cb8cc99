// Package mock provides function-field fakes of the backend client
// interfaces so discovery and pool tests run without a network.
package mock
