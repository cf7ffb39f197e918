package intake

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Line is one line read from an intake file, 1-indexed, with the line
// terminator ("\n", and a "\r" just before it) removed and all other
// whitespace untouched (blank detection is the caller's job so it can
// still advance the line counter for blanks).
type Line struct {
	Number  int64
	Content []byte
}

// ReadFrom opens path and streams every line starting after
// startAfterLine (0 means "from the start"), invoking visit for each one.
// visit returning a non-nil error stops iteration: io.EOF makes ReadFrom
// return nil, and any other error is returned as-is.
func ReadFrom(path string, startAfterLine int64, visit func(Line) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("intake: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lineNo int64
	for scanner.Scan() {
		lineNo++
		if lineNo <= startAfterLine {
			continue
		}
		content := make([]byte, len(scanner.Bytes()))
		copy(content, scanner.Bytes())
		if err := visit(Line{Number: lineNo, Content: content}); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("intake: scan %s: %w", path, err)
	}
	return nil
}
