package detect

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// ContainerMarker is the schema metadata key every structured container
// carries. It appears verbatim in the first bytes of the stream.
const ContainerMarker = "plateflow.container"

// MIME types not known to net/http sniffing.
const (
	MIMEArrowStream = "application/vnd.apache.arrow.stream"
	MIMEArrowFile   = "application/vnd.apache.arrow.file"
)

var extensionFormats = map[string]core.Format{
	".txt":    core.FormatInstrumentText,
	".tsv":    core.FormatInstrumentText,
	".tab":    core.FormatInstrumentText,
	".csv":    core.FormatInstrumentText,
	".xlsx":   core.FormatSpreadsheet,
	".arrow":  core.FormatContainer,
	".arrows": core.FormatContainer,
	".pfc":    core.FormatContainer,
}

var mimeFormats = map[string]core.Format{
	"text/plain":      core.FormatInstrumentText,
	"text/csv":        core.FormatInstrumentText,
	"application/zip": core.FormatSpreadsheet,
	MIMEArrowStream:   core.FormatContainer,
}

// Dialect preference markers for instrument text: an HTS table names both
// a cell count column and a drug concentration column in its header.
var htsMarkers = [][]byte{[]byte("cell.count"), []byte("drug1.conc")}

// formatFromExtension looks the filename extension up in the fixed table.
func formatFromExtension(name string) core.Format {
	return extensionFormats[strings.ToLower(filepath.Ext(name))]
}

// Known reports whether name has an extension of a supported format.
func Known(name string) bool {
	return formatFromExtension(name) != core.FormatUnknown
}

// sniffMIME returns the content type of a sample.
func sniffMIME(sample []byte) string {
	// Arrow IPC stream: continuation marker then a flatbuffer schema message.
	if len(sample) >= 8 && bytes.HasPrefix(sample, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		if bytes.Contains(sample, []byte(ContainerMarker)) {
			return MIMEArrowStream
		}
	}
	if bytes.HasPrefix(sample, []byte("ARROW1")) {
		return MIMEArrowFile
	}

	ct := http.DetectContentType(sample)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// hasHTSMarkers reports whether every HTS header marker is present.
func hasHTSMarkers(sample []byte) bool {
	lower := bytes.ToLower(sample)
	for _, m := range htsMarkers {
		if !bytes.Contains(lower, m) {
			return false
		}
	}
	return true
}
