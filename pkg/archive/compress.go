package archive

import (
	"compress/flate"
	"io"
)

// flateWriter adapts compress/flate's leveled writer to the
// zip.RegisterCompressor signature so WriteArchive can honor
// storage.compression_level instead of the zip package's fixed default.
func flateWriter(out io.Writer, level int) (io.WriteCloser, error) {
	return flate.NewWriter(out, level)
}
