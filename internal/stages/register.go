// Package stages holds the built-in I/O stages. Importing it registers
// them on the default registry.
package stages

import "github.com/petrijr/stagehand/internal/registry"

func init() {
	registry.MustRegister("print", newPrintStage)
	registry.MustRegister("command_filter", newCommandFilterStage)
	registry.MustRegister("file_stream", newFileStreamStage)
	registry.MustRegister("recording", newRecordingStage)
	registry.MustRegister("transcript_to_file", newTranscriptStage)
	registry.MustRegister("envelope_store", newEnvelopeStoreStage)
}
