// Package execrenderer renders statements by shelling out to an external
// rendering binary. The report data is written to the binary's stdin as JSON
// and the output path is appended as the final argument, so any script or
// program honouring that contract can produce the document.
package execrenderer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/mindworx/sor"
)

type Renderer struct {
	binary string
	args   []string
}

func New(binary string, args ...string) *Renderer {
	return &Renderer{
		binary: binary,
		args:   args,
	}
}

var _ sor.DocumentRenderer = (*Renderer)(nil)

func (r *Renderer) Render(ctx context.Context, data sor.ReportData, outputPath string) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", errors.Wrap(err, "marshal report data")
	}

	args := append(append([]string{}, r.args...), outputPath)
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		return "", errors.Wrap(err, "renderer failed", j.MKV{
			"binary": r.binary,
			"stderr": stderr.String(),
		})
	}

	// The binary exiting zero without producing the file is still a failure.
	_, err = os.Stat(outputPath)
	if err != nil {
		return "", errors.Wrap(err, "renderer produced no output", j.KV("path", outputPath))
	}

	return outputPath, nil
}
