package unidiff

import (
	"bufio"
	"io"
)

// DevNull is the label used for the missing side of an added or deleted file.
const DevNull = "/dev/null"

// FileHeader returns the "---"/"+++" lines that precede a file's hunks.
func FileHeader(oldLabel, newLabel string) []string {
	return []string{"--- " + oldLabel, "+++ " + newLabel}
}

// Write emits a complete file diff. Nothing is written when there are no hunks.
func Write(w io.Writer, oldLabel, newLabel string, hunks []Hunk) error {
	if len(hunks) == 0 {
		return nil
	}
	bw := bufio.NewWriter(w)
	for _, line := range FileHeader(oldLabel, newLabel) {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	for _, hunk := range hunks {
		if _, err := bw.WriteString(hunk.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
