// See dispatcher.go for the package overview.
package dispatcher
