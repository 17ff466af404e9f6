// Package packager turns acquired units into finished documents.
//
// Plain text and HTML are rendered directly from the unit contents. EPUB
// output is assembled with go-epub; embedded images are fetched once per
// packaging run through an ImageSet and stored inside the container.
package packager
