package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists reconstructed conversations as one JSON file each,
// named conv<ID>.json, in a flat directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the conversation file, replacing any previous version.
func (s *Store) Save(file File) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %d: %w", file.ConvID, err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("conv%d.json", file.ConvID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write conversation %d: %w", file.ConvID, err)
	}
	return nil
}

// LoadAll reads every conv*.json file in the store. Files come back in
// directory-listing order, which is not guaranteed to follow convId.
func (s *Store) LoadAll() ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list conversation dir: %w", err)
	}

	var files []File
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "conv") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var f File
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// Render joins the conversations into one labeled block of text for use
// as model context.
func Render(files []File) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "### Conversation %d\n", f.ConvID)
		for _, line := range f.Conversation {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}
