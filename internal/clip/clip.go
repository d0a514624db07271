// Package clip copies run outputs to the clipboard.
package clip

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/adapters/media"
)

// Method is how an output was made available.
type Method string

const (
	MethodNative Method = "native" // OS clipboard
	MethodOSC52  Method = "osc52"  // terminal escape sequence, works over SSH
	MethodFile   Method = "file"   // temp file
)

// Result reports where an output went. FilePath is set for MethodFile.
type Result struct {
	Method   Method
	FilePath string
}

// textCopier is one clipboard mechanism for text.
type textCopier struct {
	method Method
	write  func(string) error
}

// Swapped in tests.
var (
	copiers = []textCopier{
		{MethodNative, atotto.WriteAll},
		{MethodOSC52, func(text string) error { return writeAllOSC52(os.Stderr, text) }},
	}
	tempDir = os.TempDir
)

// Output copies the output of node name. Data URLs are decoded and saved as
// media files; anything else is treated as text.
func Output(name, output string) (Result, error) {
	if strings.HasPrefix(output, "data:") {
		data, mimeType, err := media.DecodeDataURL(output)
		if err != nil {
			return Result{}, err
		}
		return WriteMedia(name, data, mimeType)
	}
	return WriteAll(name, output)
}

// WriteAll tries each clipboard mechanism in turn and falls back to a text
// file named after name.
func WriteAll(name, text string) (Result, error) {
	for _, c := range copiers {
		if c.write(text) == nil {
			return Result{Method: c.method}, nil
		}
	}
	return saveFile(name, []byte(text), ".txt")
}

// WriteMedia saves binary output such as a cropped image or an extracted
// frame to a file with an extension matching mimeType. Terminal clipboards
// only carry text.
func WriteMedia(name string, data []byte, mimeType string) (Result, error) {
	if len(data) == 0 {
		return Result{}, errors.New("empty media payload")
	}
	return saveFile(name, data, extensionFor(mimeType))
}

// osc52LimitBytes is below the limit of most terminals.
const osc52LimitBytes = 100_000

type fdWriter interface {
	io.Writer
	Fd() uintptr
}

func writeAllOSC52(w fdWriter, text string) error {
	switch {
	case text == "":
		return errors.New("empty clipboard text")
	case len(text) > osc52LimitBytes:
		return fmt.Errorf("text too large for OSC52 (%d bytes > %d)", len(text), osc52LimitBytes)
	case !term.IsTerminal(int(w.Fd())): // #nosec G115
		return errors.New("output is not a terminal")
	}

	seq := osc52.New(text).Limit(osc52LimitBytes)
	switch {
	case os.Getenv("TMUX") != "":
		seq = seq.Tmux()
	case os.Getenv("STY") != "":
		seq = seq.Screen()
	}
	_, err := seq.WriteTo(w)
	return err
}

var knownExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
}

func extensionFor(mimeType string) string {
	if ext, ok := knownExtensions[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// saveFile writes data to a new file in the temp directory and removes it
// again if the write fails.
func saveFile(name string, data []byte, ext string) (res Result, err error) {
	f, err := os.CreateTemp(tempDir(), "nodeflow-"+safeName(name)+"-*"+ext)
	if err != nil {
		return Result{}, err
	}
	path := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return Result{}, err
	}
	if err = f.Close(); err != nil {
		return Result{}, err
	}
	return Result{Method: MethodFile, FilePath: filepath.Clean(path)}, nil
}

// safeName keeps node ids usable in a file name.
func safeName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if clean == "" {
		return "output"
	}
	return clean
}
