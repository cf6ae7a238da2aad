package logging

import (
	"encoding/hex"
	"io"
	"strconv"
)

// Hexdump writes a canonical hex+ASCII dump of the payload, useful for
// eyeballing wire frames at debug level.
func Hexdump(w io.Writer, payload []byte) error {
	dumper := hex.Dumper(w)
	defer dumper.Close()
	if _, err := dumper.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return err
	}
	return nil
}

func ShortCallerFormatter(_ uintptr, file string, line int) string {
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	file = short
	return file + ":" + strconv.Itoa(line)
}
