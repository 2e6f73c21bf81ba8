// See shim.go for the package overview.
package shim
