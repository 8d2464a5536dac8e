// Package output renders command results as aligned text tables or JSON.
package output
