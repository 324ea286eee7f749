// Package discovery scans configured search paths for model weight files
// and classifies them into ModelEntry records.
package discovery

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/localforge/localforge/pkg/internal/utils"
	"github.com/localforge/localforge/pkg/logging"
	"github.com/localforge/localforge/pkg/model"
)

// maxDepth bounds recursive directory scanning so a deeply nested or
// cyclic mount can't make a scan run unbounded.
const maxDepth = 6

// ggufMagic is the 4-byte magic prefix of a GGUF file.
var ggufMagic = []byte{'G', 'G', 'U', 'F'}

// denyListSubstrings excludes non-LLM artifact families by filename
// pattern: image-generation, audio-recognition, and vision-only encoder
// weights commonly co-located in model caches.
var denyListSubstrings = []string{
	"vae", "unet", "clip-vit", "stable-diffusion", "sdxl",
	"whisper", "wav2vec", "encodec", "vocoder",
	"clip-vision", "vision_encoder", "image_encoder",
}

// adapterSubstrings identify LoRA/adapter files to group with a base model.
var adapterSubstrings = []string{"lora", "adapter"}

// SearchPaths composes the ordered, deduplicated list of directories to
// scan: MODEL_PATHS env (`;`-separated) -> UPSTREAM_MODELS env -> the CLI
// override -> platform defaults.
func SearchPaths(cliDirs []string) []string {
	var ordered []string
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		ordered = append(ordered, p)
	}

	if v := os.Getenv("MODEL_PATHS"); v != "" {
		for _, p := range strings.Split(v, ";") {
			add(p)
		}
	}
	if v := os.Getenv("UPSTREAM_MODELS"); v != "" {
		add(v)
	}
	for _, p := range cliDirs {
		add(p)
	}
	for _, p := range platformDefaults() {
		add(p)
	}
	return ordered
}

func platformDefaults() []string {
	home, _ := os.UserHomeDir()
	defaults := []string{
		filepath.Join(home, ".cache", "huggingface", "hub"),
		filepath.Join(home, ".ollama", "models"),
		"./models",
	}
	if runtime.GOOS == "windows" {
		for _, drive := range []string{"C:", "D:", "E:", "F:"} {
			defaults = append(defaults, filepath.Join(drive, "\\", "Users", "*", ".ollama", "models"))
		}
	}
	return defaults
}

// Scan walks every search path (bounded depth) and returns a stable-sorted,
// deduplicated list of ModelEntry records. Per-path failures (permission
// denied, broken symlinks) are logged and skipped, never fatal.
func Scan(paths []string, log logging.Logger) []model.Entry {
	entriesByDir := make(map[string][]model.Entry)
	nameCount := make(map[string]int)

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			if err != nil && log != nil {
				log.Debugf("discovery: skipping %s: %v", utils.SanitizeForLog(root), err)
			}
			continue
		}
		walkDir(root, root, 0, log, entriesByDir, nameCount)
	}

	// Group adapters with their base model within each directory.
	var out []model.Entry
	for _, dirEntries := range entriesByDir {
		adapters := make([]string, 0)
		var bases []model.Entry
		for _, e := range dirEntries {
			if isAdapterName(filepath.Base(e.Path)) {
				adapters = append(adapters, e.Path)
				continue
			}
			bases = append(bases, e)
		}
		for _, b := range bases {
			b.LoraCandidates = append([]string{}, adapters...)
			out = append(out, b)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func walkDir(root, dir string, depth int, log logging.Logger, entriesByDir map[string][]model.Entry, nameCount map[string]int) {
	if depth > maxDepth {
		return
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		if log != nil {
			log.Debugf("discovery: skipping %s: %v", utils.SanitizeForLog(dir), err)
		}
		return
	}
	for _, item := range items {
		full := filepath.Join(dir, item.Name())
		if item.IsDir() {
			walkDir(root, full, depth+1, log, entriesByDir, nameCount)
			continue
		}
		entry, ok := classify(full, item.Name(), root)
		if !ok {
			continue
		}
		entry.Name = disambiguate(entry.Name, filepath.Dir(full), nameCount)
		entriesByDir[filepath.Dir(full)] = append(entriesByDir[filepath.Dir(full)], entry)
	}
}

func disambiguate(name, dir string, nameCount map[string]int) string {
	nameCount[name]++
	if nameCount[name] == 1 {
		return name
	}
	return filepath.Base(dir) + "/" + name
}

func classify(path, filename, sourceRoot string) (model.Entry, bool) {
	if isAdapterName(filename) {
		// Adapters are still classified (so they can be grouped) but only
		// if they pass the same format check as a base file.
	}
	if denied(filename) {
		return model.Entry{}, false
	}

	fmtGuess, ok := ClassifyFormat(path, filename)
	if !ok {
		return model.Entry{}, false
	}

	info, err := os.Stat(path)
	if err != nil {
		return model.Entry{}, false
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	if fmtGuess == model.SafeTensors {
		stem = strings.TrimSuffix(stem, ".safetensors")
	}

	return model.Entry{
		Name:      stem,
		Path:      path,
		SizeBytes: info.Size(),
		Format:    fmtGuess,
		SourceTag: sourceRoot,
	}, true
}

func denied(filename string) bool {
	lower := strings.ToLower(filename)
	for _, d := range denyListSubstrings {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

func isAdapterName(filename string) bool {
	lower := strings.ToLower(filename)
	for _, s := range adapterSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// ClassifyFormat determines a file's format by extension and magic bytes.
// GGUF files are matched by the 4-byte "GGUF" magic; SafeTensors files are
// matched by the .safetensors extension plus a valid JSON header prefix.
// Exported so callers that register a model from a known path (rather than
// a directory scan) can classify it the same way Scan does.
func ClassifyFormat(path, filename string) (model.Format, bool) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".gguf"):
		if hasGGUFMagic(path) {
			return model.Gguf, true
		}
		return 0, false
	case strings.HasSuffix(lower, ".safetensors"):
		if hasSafeTensorsHeader(path) {
			return model.SafeTensors, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func hasGGUFMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 4)
	n, err := io.ReadFull(f, buf)
	if err != nil || n != 4 {
		return false
	}
	for i := range ggufMagic {
		if buf[i] != ggufMagic[i] {
			return false
		}
	}
	return true
}

// hasSafeTensorsHeader validates the 8-byte little-endian header length
// prefix followed by a parseable JSON object, without reading tensor data.
func hasSafeTensorsHeader(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return false
	}
	headerLen := uint64(0)
	for i := 7; i >= 0; i-- {
		headerLen = headerLen<<8 | uint64(lenBuf[i])
	}
	if headerLen == 0 || headerLen > 100*1024*1024 {
		return false
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	var probe map[string]json.RawMessage
	return json.Unmarshal(header, &probe) == nil
}
