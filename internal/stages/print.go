package stages

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/petrijr/stagehand/pkg/api"
)

// PrintOptions configures the print stage.
type PrintOptions struct {
	// OnlyField prints just this field when the envelope has it.
	OnlyField string `config:"only_field"`
}

// Print writes every input envelope to Out, one line each.
type Print struct {
	api.BaseStage
	opts PrintOptions
	Out  io.Writer
}

func NewPrint(opts PrintOptions) *Print {
	return &Print{opts: opts, Out: os.Stdout}
}

func newPrintStage(cfg api.StageConfig) (api.Stage, error) {
	var opts PrintOptions
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	return NewPrint(opts), nil
}

func (p *Print) Routine(ctx context.Context, rt api.Runtime) error {
	msg, ok := rt.Next()
	if !ok {
		return api.ErrNoInput
	}
	rt.Logger().Debug("printing", slog.String("command", msg.Command()))

	now := api.FormatTimestamp(time.Now())
	if v, ok := msg[p.opts.OnlyField]; ok && p.opts.OnlyField != "" {
		_, err := fmt.Fprintf(p.Out, "%s print: %v\n", now, v)
		return err
	}
	_, err := fmt.Fprintf(p.Out, "%s print: %s\n", now, formatEnvelope(msg))
	return err
}

// formatEnvelope renders msg with sorted keys. Sample buffers are
// summarized.
func formatEnvelope(msg api.Envelope) string {
	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		switch v := msg[k].(type) {
		case []float32:
			fmt.Fprintf(&b, "%s: <%d samples>", k, len(v))
		case []float64:
			fmt.Fprintf(&b, "%s: <%d samples>", k, len(v))
		default:
			fmt.Fprintf(&b, "%s: %v", k, v)
		}
	}
	b.WriteByte('}')
	return b.String()
}
