// Package container extracts ISO 6346 shipping container identifiers from
// free text and validates their check digit. Everything here is pure and
// deterministic so it can run inside workflow code.
package container
