// Package novel defines the domain types, collaborator interfaces, error
// taxonomy and retry combinator shared by the acquisition pipeline.
package novel
