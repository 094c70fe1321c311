package export

import (
	"fmt"
	"os/exec"

	"github.com/ezshark/ezshark-go/internal/model"
)

// ImportCharles converts a Charles session file to HAR via the external
// charles binary, then imports the result the same way ImportHAR does.
// Grounded on original_source's CharlesConverter::convert_to_har
// (models/charles.rs), which shells out to `charles convert <in> <out>`
// and surfaces stderr on a nonzero exit rather than trying to parse the
// Charles session format itself.
func ImportCharles(charlesPath, inputPath, harOutPath, sessionID, spoolDir string) ([]*model.Transaction, error) {
	cmd := exec.Command(charlesPath, "convert", inputPath, harOutPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("export: charles convert failed: %w: %s", err, out)
	}
	return ImportHAR(harOutPath, sessionID, spoolDir)
}
