package util

import (
	"log/slog"
	"os"
)

func CloseFileFunc(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Error("close file", "err", err)
	}
}
